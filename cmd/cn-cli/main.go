package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"astock/pkg/astock"
)

const version = "0.1.0"

func main() {
	addr := flag.String("addr", envOr("ASTOCK_ADDR", "http://localhost:8081"), "cn-server base URL")
	refresh := flag.Bool("refresh", false, "stocks: refetch the universe before listing")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cn-cli [options] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version        Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status         Show the last sync status\n")
		fmt.Fprintf(os.Stderr, "  start          Start a full-universe sync\n")
		fmt.Fprintf(os.Stderr, "  stop           Stop the running sync\n")
		fmt.Fprintf(os.Stderr, "  watch          Follow sync progress until it finishes\n")
		fmt.Fprintf(os.Stderr, "  update <code>  Update one symbol now\n")
		fmt.Fprintf(os.Stderr, "  stocks         List the cached universe\n")
		fmt.Fprintf(os.Stderr, "  count          Show universe and history cache sizes\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	c := astock.NewClient(*addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "version":
		fmt.Printf("cn-cli %s\n", version)

	case "status":
		var task astock.SyncTask
		task, err = c.SyncStatus(ctx)
		if isStatus(err, http.StatusNotFound) {
			fmt.Println(warnStyle.Render("no task recorded"))
			return
		}
		if err == nil {
			fmt.Println(renderTask(task))
		}

	case "start":
		var task astock.SyncTask
		task, err = c.StartSync(ctx)
		if isStatus(err, http.StatusConflict) {
			fmt.Println(warnStyle.Render("a sync is already running"))
			return
		}
		if err == nil {
			fmt.Println(okStyle.Render("sync started"))
			fmt.Println(renderTask(task))
		}

	case "stop":
		err = c.StopSync(ctx)
		if isStatus(err, http.StatusConflict) {
			fmt.Println(warnStyle.Render("no running task"))
			return
		}
		if err == nil {
			fmt.Println(okStyle.Render("stop requested"))
		}

	case "watch":
		err = runWatch(c)

	case "update":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "update requires a stock code")
			os.Exit(1)
		}
		var res astock.UpdateResult
		res, err = c.UpdateSymbol(ctx, flag.Arg(1))
		if err == nil {
			fmt.Println(renderResult(res))
		}

	case "stocks":
		var stocks []astock.Stock
		stocks, err = c.Stocks(ctx, *refresh)
		if err == nil {
			for _, s := range stocks {
				fmt.Printf("%s  %s\n", titleStyle.Render(s.Symbol), s.Name)
			}
			fmt.Println(labelStyle.Render("total") + valueStyle.Render(fmt.Sprintf("%d", len(stocks))))
		}

	case "count":
		var n int
		n, err = c.StockCount(ctx)
		if err != nil {
			break
		}
		var hc astock.HistoryCount
		hc, err = c.HistoryCount(ctx)
		if err == nil {
			fmt.Println(row("universe", valueStyle.Render(fmt.Sprintf("%d", n))))
			fmt.Println(row("cached", valueStyle.Render(fmt.Sprintf("%d", hc.Symbols))))
			fmt.Println(row("rows", valueStyle.Render(fmt.Sprintf("%d", hc.Rows))))
			if hc.Unreadable > 0 {
				fmt.Println(row("corrupt", errStyle.Render(fmt.Sprintf("%d", hc.Unreadable))))
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func isStatus(err error, code int) bool {
	var apiErr *astock.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
