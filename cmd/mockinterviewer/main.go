// Command mockinterviewer is a local stand-in for the interview backend. It speaks the
// session channel protocol and serves the sessions report API so the client can be
// exercised end to end without the real service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type options struct {
	addr        string
	questions   []string
	reportDelay time.Duration
	chunkWords  int
	push        bool
	verbose     bool
}

var defaultQuestions = []string{
	"Welcome! Let's start. Tell me about a project you are proud of.",
	"What was the hardest technical decision on that project?",
	"How did you measure whether it worked?",
	"If you did it again, what would you change?",
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockinterviewer: %v\n", err)
		os.Exit(2)
	}
	newLogger := zap.NewProduction
	if opts.verbose {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	srv := newMockServer(opts, logger)
	httpServer := &http.Server{Addr: opts.addr, Handler: srv.Router()}
	go func() {
		logger.Info("mock interviewer listening", zap.String("addr", opts.addr), zap.Bool("push", opts.push))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("mockinterviewer", flag.ContinueOnError)
	var opts options
	var questions string
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:3001", "listen address")
	fs.StringVar(&questions, "questions", "", "questions separated by '|' (default: built-in set)")
	fs.DurationVar(&opts.reportDelay, "report-delay", 2*time.Second, "time between complete-interview and a ready report")
	fs.IntVar(&opts.chunkWords, "chunk-words", 3, "words per streamed chunk")
	fs.BoolVar(&opts.push, "push", true, "push interview-completed; false leaves the client to poll")
	fs.BoolVar(&opts.verbose, "v", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.questions = defaultQuestions
	if strings.TrimSpace(questions) != "" {
		opts.questions = nil
		for _, q := range strings.Split(questions, "|") {
			if q = strings.TrimSpace(q); q != "" {
				opts.questions = append(opts.questions, q)
			}
		}
		if len(opts.questions) == 0 {
			return options{}, errors.New("-questions has no non-empty entries")
		}
	}
	if opts.chunkWords <= 0 {
		return options{}, errors.New("-chunk-words must be positive")
	}
	if opts.reportDelay < 0 {
		return options{}, errors.New("-report-delay must not be negative")
	}
	return opts, nil
}
