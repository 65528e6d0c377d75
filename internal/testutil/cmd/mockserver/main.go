// Command mockserver runs a standalone mock usage endpoint for manual panel
// development. Point CLAUDIT_USAGE_URL at it.
//
// Usage:
//
//	go run ./internal/testutil/cmd/mockserver [flags]
//
// Flags:
//
//	--port   HTTP port (default: 19312)
//	--token  Expected bearer token (default: empty, accepts any)
//	--error  HTTP status to return instead of data (default: 0)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/psurma/claudit/internal/testutil"
)

func main() {
	port := flag.Int("port", 19312, "HTTP port for the mock server")
	token := flag.String("token", "", "Expected bearer token")
	errCode := flag.Int("error", 0, "HTTP status code to inject")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc(testutil.UsagePath, func(w http.ResponseWriter, r *http.Request) {
		if *errCode > 0 {
			w.WriteHeader(*errCode)
			fmt.Fprintf(w, `{"error": "injected error %d"}`, *errCode)
			return
		}
		if *token != "" && r.Header.Get("Authorization") != "Bearer "+*token {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": "unauthorized"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, testutil.DefaultUsageResponse())
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", *port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("mock usage server listening on http://%s%s", httpSrv.Addr, testutil.UsagePath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
