package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	baseURL := flag.String("addr", envOrDefault("OFFSYNC_ADDR", "http://127.0.0.1:8787"), "offsync daemon base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("OFFSYNC_AUTH_TOKEN")), "bearer token for mutating commands")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cli := &client{
		baseURL: normalizeBaseURL(*baseURL),
		token:   *token,
		http:    &http.Client{Timeout: *timeout},
	}

	var err error
	switch args[0] {
	case "status":
		err = cli.get("/v1/sync/status")
	case "queue":
		err = cli.get("/v1/sync/queue")
	case "trigger":
		err = cli.do(http.MethodPost, "/v1/sync/trigger", nil)
	case "drain":
		err = cli.do(http.MethodPost, "/v1/sync/drain", nil)
	case "clear":
		err = cli.do(http.MethodDelete, "/v1/sync/queue", nil)
	case "remove":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			log.Fatalf("remove requires an item id")
		}
		err = cli.do(http.MethodDelete, "/v1/sync/queue/"+args[1], nil)
	case "submit":
		err = runSubmit(cli, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func runSubmit(cli *client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	name := fs.String("name", "", "session part name")
	isDefault := fs.Bool("default", false, "mark the part as the session default")
	entityID := fs.String("entity", "", "local entity id")
	_ = fs.Parse(args)
	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*entityID) == "" {
		return fmt.Errorf("submit requires -name and -entity")
	}
	body, err := json.Marshal(map[string]any{
		"name":       *name,
		"is_default": *isDefault,
		"entityId":   *entityID,
	})
	if err != nil {
		return err
	}
	return cli.do(http.MethodPost, "/v1/session-parts", body)
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) get(path string) error {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) do(method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(prettyJSON(payload)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	return nil
}

func prettyJSON(payload []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "http://127.0.0.1:8787"
	}
	if !strings.Contains(raw, "://") {
		return "http://" + raw
	}
	return raw
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: offsyncctl [flags] <command>

commands:
  status               show the sync status register
  queue                list queued mutations
  trigger              schedule a debounced drain
  drain                run a drain pass now
  clear                empty the queue
  remove <id>          remove one queued item
  submit -name N -entity E [-default]
                       create a session part, queueing it if offline`)
	flag.PrintDefaults()
}
