package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/webhook/payload"
	"github.com/dispatchd/webhook-engine/webhook/signature"
)

/* receiver - Standalone demo endpoint that verifies signed deliveries
 * Usage: WEBHOOK_SECRET=<hex secret> go run cmd/receiver/main.go [port]
 * Responds 2xx to verified deliveries, 401 to bad signatures.
 */

func main() {
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	port := "9090"
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	http.HandleFunc("/hooks", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		sig := r.Header.Get(signature.Header)
		if !signature.Verify(body, sig, secret) {
			fmt.Printf("✗ rejected delivery: bad signature\n")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		env, err := payload.Parse(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid envelope: %v", err), http.StatusBadRequest)
			return
		}

		fmt.Printf("✓ delivery %s event=%s type=%s attempt=%d/%d\n",
			env.ID, env.EventID, env.EventType,
			env.Metadata.Attempt, env.Metadata.MaxAttempts,
		)
		fmt.Printf("  header %s: %s\n", dispatch.EventTypeHeader, r.Header.Get(dispatch.EventTypeHeader))
		fmt.Printf("  data: %s\n", string(env.Data))

		w.WriteHeader(http.StatusAccepted)
	})

	fmt.Printf("Receiver listening on port %s\n", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
