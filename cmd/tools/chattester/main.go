// Command chattester drives one init, query, history round trip against a
// running backend, over HTTP streaming or the websocket endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/ws"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
)

type options struct {
	baseURL   string
	city      string
	state     string
	message   string
	transport string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "chattester",
		Short: "Run a chat round trip against a Tenant First Aid server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.message) == "" {
				return errors.New("--message is required")
			}
			log := logging.New(nil, "info")
			return run(cmd.OutOrStdout(), opts, log)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:5001", "server base URL")
	cmd.Flags().StringVar(&opts.city, "city", "", "city for /api/init (empty for state-wide)")
	cmd.Flags().StringVar(&opts.state, "state", "or", "state for /api/init")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "question to send")
	cmd.Flags().StringVar(&opts.transport, "transport", "http", "query transport: http or ws")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	return cmd
}

func run(out io.Writer, opts options, log *logging.Logger) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{Jar: jar, Timeout: opts.timeout}
	base := strings.TrimRight(opts.baseURL, "/")

	var initResp struct {
		SessionID string `json:"session_id"`
	}
	if err := postJSON(client, base+"/api/init", map[string]string{"city": opts.city, "state": opts.state}, &initResp); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	log.Info().Str("session_id", initResp.SessionID).Msg("session started")

	start := time.Now()
	switch opts.transport {
	case "http":
		err = queryHTTP(out, client, base, opts.message)
	case "ws":
		err = queryWS(out, jar, base, opts.message, opts.timeout)
	default:
		err = fmt.Errorf("unknown transport %q", opts.transport)
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Fprintln(out)
	log.Info().Dur("elapsed", time.Since(start)).Msg("answer received")

	resp, err := client.Get(base + "/api/history")
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()

	var history struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	log.Info().Int("messages", len(history.Messages)).Msg("history stored")
	return nil
}

func postJSON(client *http.Client, url string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func queryHTTP(out io.Writer, client *http.Client, base, message string) error {
	payload, _ := json.Marshal(map[string]string{"message": message})
	resp, err := client.Post(base+"/api/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	_, err = io.Copy(out, resp.Body)
	return err
}

func queryWS(out io.Writer, jar http.CookieJar, base, message string, timeout time.Duration) error {
	u, err := url.Parse(base + "/api/ws")
	if err != nil {
		return err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{Jar: jar, HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(ws.InboundMessage{Type: "query", Message: message}); err != nil {
		return err
	}

	for {
		var frame ws.OutgoingMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		switch frame.Type {
		case ws.TypeDelta:
			var c ws.Content
			if err := ws.DecodeData(frame, &c); err != nil {
				return err
			}
			fmt.Fprint(out, c.Content)
		case ws.TypeEnd:
			return nil
		case ws.TypeError:
			var e struct {
				Message string `json:"message"`
			}
			_ = ws.DecodeData(frame, &e)
			return fmt.Errorf("server error: %s", e.Message)
		}
	}
}
