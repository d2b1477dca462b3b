// Command streamclient replays image files through the live verification
// stream and prints the result for every frame.
//
//	streamclient -target drug_a [-url ws://localhost:8080/v1/stream] [-out dir] pill1.jpg pill2.png ...
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const readTimeout = 30 * time.Second

type control struct {
	TargetID string `json:"target_id"`
	Format   string `json:"format"`
}

type message struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	TargetID   string  `json:"target_id"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	HasFrame   bool    `json:"has_frame"`
	Index      uint64  `json:"index"`
	DetectedID string  `json:"detected_id"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"match_status"`
	Audited    bool    `json:"audited"`
	Error      string  `json:"error"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/v1/stream", "stream endpoint")
	target := flag.String("target", "", "medication id to verify against")
	outDir := flag.String("out", "", "directory for annotated frames")
	flag.Parse()

	if *target == "" || flag.NArg() == 0 {
		log.Fatal("usage: streamclient -target id [-url ws-url] [-out dir] image...")
	}

	conn, resp, err := websocket.DefaultDialer.Dial(*url, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			log.Printf("dial failed: status=%d body=%s", resp.StatusCode, string(body))
		}
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		conn.Close()
		os.Exit(0)
	}()

	c := &client{conn: conn, out: os.Stdout, frameDir: *outDir}
	if err := c.replay(*target, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

type client struct {
	conn     *websocket.Conn
	out      io.Writer
	frameDir string
}

// replay sends each file as one frame. The control message is resent
// whenever the encoding changes between files.
func (c *client) replay(target string, files []string) error {
	hello, err := c.readMessage()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if hello.Type != "session" {
		return fmt.Errorf("unexpected first message %q", hello.Type)
	}
	fmt.Fprintf(c.out, "session %s\n", hello.SessionID)

	format := ""
	for _, path := range files {
		next, err := formatOf(path)
		if err != nil {
			return err
		}
		if next != format {
			if err := c.configure(target, next); err != nil {
				return err
			}
			format = next
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		if err := c.receiveResult(path); err != nil {
			return err
		}
	}

	return c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) configure(target, format string) error {
	if err := c.conn.WriteJSON(control{TargetID: target, Format: format}); err != nil {
		return fmt.Errorf("send control: %w", err)
	}
	msg, err := c.readMessage()
	if err != nil {
		return fmt.Errorf("read control reply: %w", err)
	}
	if msg.Type == "error" {
		return fmt.Errorf("control rejected: %s: %s", msg.Code, msg.Message)
	}
	return nil
}

func (c *client) receiveResult(path string) error {
	msg, err := c.readMessage()
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	if msg.Type == "error" {
		return fmt.Errorf("%s: %s", msg.Code, msg.Message)
	}

	line := fmt.Sprintf("#%d %s %s detected=%s confidence=%.2f", msg.Index, filepath.Base(path), msg.Status, msg.DetectedID, msg.Confidence)
	if msg.Audited {
		line += " audited"
	}
	if msg.Error != "" {
		line += " error=" + msg.Error
	}
	fmt.Fprintln(c.out, line)

	if !msg.HasFrame {
		return nil
	}
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if c.frameDir == "" {
		return nil
	}
	name := fmt.Sprintf("%04d-%s.jpg", msg.Index, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	return os.WriteFile(filepath.Join(c.frameDir, name), frame, 0o644)
}

func (c *client) readMessage() (message, error) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return message{}, err
	}
	if kind != websocket.TextMessage {
		return message{}, errors.New("expected a text message")
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message{}, err
	}
	return msg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg", nil
	case ".png":
		return "png", nil
	}
	return "", fmt.Errorf("unsupported image file %s", path)
}
