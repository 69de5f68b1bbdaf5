package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edumarket/chatsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	watchConversation int64
	watchMetricsAddr  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll for updates and print them until interrupted",
	Long: "Keep the conversation list (and, with --conversation, one message log) in sync\n" +
		"by polling, printing every change. With --metrics-addr the sync metrics are\n" +
		"served on /metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		s := a.session

		var srv *http.Server
		if watchMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			if err := s.Metrics().Register(reg); err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv = &http.Server{Addr: watchMetricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
			fmt.Printf("Serving metrics on http://%s/metrics\n", watchMetricsAddr)
		}

		// handlers fire from the list and message fetches concurrently
		var mu sync.Mutex
		seen := make(map[int64]int64)
		s.On(chatsync.EventConversationsUpdated, func(_ string, p any) {
			mu.Lock()
			defer mu.Unlock()
			for _, c := range p.([]chatsync.ConversationSummary) {
				var last int64
				if c.LastMessage != nil {
					last = c.LastMessage.ID
				}
				if prev, ok := seen[c.ID]; !ok || prev != last {
					printSummaryLine(c)
				}
				seen[c.ID] = last
			}
		})
		printed := make(map[int64]bool)
		s.On(chatsync.EventMessagesUpdated, func(_ string, p any) {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range p.([]chatsync.Message) {
				if !printed[m.ID] {
					printMessageLine(m)
					printed[m.ID] = true
				}
			}
		})
		s.On(chatsync.EventSyncError, func(_ string, p any) {
			fmt.Fprintf(os.Stderr, "sync error: %v\n", p)
		})
		s.On(chatsync.EventAuthExpired, func(string, any) {
			fmt.Fprintln(os.Stderr, "Session expired. Run 'chatsync login <token>' to sign in again.")
			stop()
		})

		if watchConversation > 0 {
			if err := s.Open(ctx, watchConversation); err != nil {
				fmt.Fprintf(os.Stderr, "open conversation: %v\n", apiError(err))
			}
		}
		if err := s.RefreshConversations(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "initial refresh: %v\n", apiError(err))
		}
		if err := s.StartPolling(); err != nil {
			return err
		}

		<-ctx.Done()
		s.StopPolling()
		s.Scheduler().Wait()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}
		fmt.Println("Stopped.")
		return nil
	},
}

func init() {
	watchCmd.Flags().Int64Var(&watchConversation, "conversation", 0, "Also follow this conversation's messages")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	rootCmd.AddCommand(watchCmd)
}
