package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/comet-live/backend/pkg/client"
)

// Connects N sessions to a running gateway, has one of them send comments
// and reports how long each broadcast took to reach every other session.
func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	clients := flag.Int("clients", 20, "Number of sessions to connect")
	messages := flag.Int("messages", 10, "Number of comments to send")
	flag.Parse()

	ctx := context.Background()

	var mu sync.Mutex
	sentAt := map[string]time.Time{}
	latencies := map[string][]time.Duration{}

	sessions := make([]*client.Session, *clients)
	for i := range sessions {
		s := client.NewSession(client.Options{URL: *url})
		s.On(client.MessageTypeNewComment, func(env *client.Envelope) {
			var payload client.NewCommentPayload
			if err := env.DecodePayload(&payload); err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if start, ok := sentAt[payload.Comment.Content]; ok {
				latencies[payload.Comment.Content] = append(latencies[payload.Comment.Content], time.Since(start))
			}
		})
		if err := s.Connect(ctx); err != nil {
			fmt.Printf("session %d failed to connect: %v\n", i, err)
			os.Exit(1)
		}
		defer s.Disconnect()
		sessions[i] = s
	}
	fmt.Printf("connected %d sessions to %s\n", *clients, *url)
	time.Sleep(500 * time.Millisecond)

	sender := sessions[0]
	for i := 0; i < *messages; i++ {
		content := "load-" + strconv.Itoa(i)
		mu.Lock()
		sentAt[content] = time.Now()
		mu.Unlock()
		if !sender.SendComment(ctx, client.Comment{Content: content}) {
			fmt.Printf("send %d failed\n", i)
		}
		time.Sleep(100 * time.Millisecond)
	}
	time.Sleep(time.Second)

	mu.Lock()
	defer mu.Unlock()
	fmt.Println("═══════════════════════════════════════════════")
	for i := 0; i < *messages; i++ {
		content := "load-" + strconv.Itoa(i)
		l := latencies[content]
		if len(l) == 0 {
			fmt.Printf("%-10s  received by 0/%d\n", content, *clients)
			continue
		}
		sort.Slice(l, func(a, b int) bool { return l[a] < l[b] })
		fmt.Printf("%-10s  received by %d/%d  p50=%v  max=%v\n",
			content, len(l), *clients, l[len(l)/2].Round(time.Microsecond), l[len(l)-1].Round(time.Microsecond))
	}
}
