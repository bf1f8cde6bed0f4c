package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	do(http.MethodGet, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/admin/v1/state")
}

func evictCmd(args []string) {
	fs := flag.NewFlagSet("evict", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	q := fs.Int("q", 0, "chunk q")
	r := fs.Int("r", 0, "chunk r")
	_ = fs.Parse(args)

	v := url.Values{}
	v.Set("q", fmt.Sprint(*q))
	v.Set("r", fmt.Sprint(*r))
	do(http.MethodPost, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/admin/v1/cache/evict?"+v.Encode())
}

func do(method, u string) {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
