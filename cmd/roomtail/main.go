// Command roomtail joins a room over the socket endpoint and prints every
// message it receives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
)

var (
	infoColor    = color.New(color.FgCyan).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	headerColor  = color.New(color.FgMagenta, color.Bold).SprintFunc()

	textPolicy = bluemonday.StrictPolicy()
)

func main() {
	server := flag.String("server", "localhost:8080", "server host:port")
	roomID := flag.String("room", "default", "room to join")
	draw := flag.Bool("draw", false, "send a sample stroke and drawing event after joining")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws/" + *roomID}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorColor("dial failed:"), err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println(headerColor("connected to " + u.String()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Println(warningColor("connection closed:"), err)
				return
			}
			printMessage(data)
		}
	}()

	if *draw {
		if err := sendSample(conn); err != nil {
			fmt.Fprintln(os.Stderr, errorColor("send failed:"), err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func printMessage(data []byte) {
	var msg struct {
		Type        string `json:"type"`
		EventID     string `json:"event_id"`
		EventName   string `json:"event_name"`
		DrawingType string `json:"drawing_type"`
		Platform    string `json:"platform"`
	}
	_ = json.Unmarshal(data, &msg)

	ts := time.Now().Format("15:04:05")
	switch msg.Type {
	case "drawing_event":
		fmt.Println(ts, successColor(msg.Type), eventLabel(msg.EventID, msg.EventName, msg.DrawingType, msg.Platform))
	case "error":
		fmt.Println(ts, errorColor(msg.Type), string(data))
	case "user_joined", "user_left", "sync":
		fmt.Println(ts, infoColor(msg.Type), string(data))
	case "drawing_event_ack":
		fmt.Println(ts, successColor(msg.Type), string(data))
	default:
		fmt.Println(ts, warningColor(msg.Type), string(data))
	}
}

// eventLabel renders an event as one terminal line. Peers control these
// strings, so markup and escape sequences are stripped first.
func eventLabel(id, name, drawingType, platform string) string {
	label := plainText(name)
	if label == "" {
		label = plainText(id)
	}
	return fmt.Sprintf("%s [%s from %s]", label, plainText(drawingType), plainText(platform))
}

func plainText(s string) string {
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s))
}

func sendSample(conn *websocket.Conn) error {
	points := [][2]float64{{10, 10}, {20, 15}, {30, 25}}
	for i, p := range points {
		action := "draw"
		switch i {
		case 0:
			action = "down"
		case len(points) - 1:
			action = "up"
		}
		frame := map[string]interface{}{
			"type":   "drawing",
			"x":      p[0],
			"y":      p[1],
			"action": action,
			"color":  "#0080FF",
			"size":   4,
			"tool":   "brush",
		}
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
	}

	return conn.WriteJSON(map[string]interface{}{
		"type":         "drawing_event",
		"event_id":     uuid.NewString(),
		"event_name":   "roomtail sample",
		"drawing_type": "point",
		"action":       "create",
		"platform":     "cli",
		"data":         map[string]interface{}{"x": 42, "y": 24},
	})
}
