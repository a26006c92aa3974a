// Command commcored is the reference daemon wiring the Communication
// Core's components into one running process: a socket listener, the
// Selector Array, the Handler Executor, the Dispatcher, and an admin
// HTTP surface. Grounded on the teacher's krd/krd.go + krd/daemon.go
// (signal handling, syslog redirect) and krd/control_server.go (HTTP
// admin surface, adapted from pairing/enclave routes to
// channel/pool/reactor status).
package main

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
	"github.com/kryptco/commcore/dispatch"
	"github.com/kryptco/commcore/lifecycle"
	"github.com/kryptco/commcore/reactor"
	"github.com/kryptco/commcore/transport"
)

//	defaultListen prefers a unix socket under the user's config
//	directory (commcore.ConfigDir, same lookup the teacher used for its
//	agent socket) and falls back to a loopback TCP port if that
//	directory can't be created (e.g. no $HOME in a container).
func defaultListen() string {
	if dir, err := commcore.ConfigDir(); err == nil {
		return "unix://" + dir + "/commcored.sock"
	}
	return "tcp://127.0.0.1:7000"
}

func main() {
	defaults := commcore.DefaultTimeouts()

	app := cli.NewApp()
	app.Name = "commcored"
	app.Usage = "Communication Core reference daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen", Value: defaultListen(), Usage: "scheme://address to accept inbound channels on"},
		cli.StringFlag{Name: "admin-listen", Value: "127.0.0.1:7001", Usage: "address for the /status and /metrics admin surface"},
		cli.IntFlag{Name: "connections-limit", Value: 0, Usage: "cap on concurrently-running handlers (0 = uncapped)"},
		cli.DurationFlag{Name: "persistent-timeout", Value: defaults.PersistentConnectionTimeout, Usage: "persistent-channel idle eviction interval"},
		cli.DurationFlag{Name: "drain-timeout", Value: defaults.HandlerDrainTimeout, Usage: "in-flight handler drain window on shutdown"},
		cli.DurationFlag{Name: "poll-interval", Value: defaults.PollInterval, Usage: "Polling Loop sweep interval for non-pollable media"},
		cli.BoolFlag{Name: "syslog", Usage: "send logs to syslog instead of stderr"},
		cli.StringFlag{Name: "tls-cert", Usage: "PEM certificate file; enables the TLS Wrapper Protocol on --listen"},
		cli.StringFlag{Name: "tls-key", Usage: "PEM key file, required alongside --tls-cert"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := commcore.SetupLogging("commcored", logging.NOTICE, c.Bool("syslog"))

	connectionsLimit := c.Int("connections-limit")
	persistentTimeout := c.Duration("persistent-timeout")
	drainTimeout := c.Duration("drain-timeout")
	pollInterval := c.Duration("poll-interval")

	interp := &commcore.StdInterpreter{
		Logger:                       log,
		PersistentConnectionTimeoutD: persistentTimeout,
	}

	executor := dispatch.NewExecutor(connectionsLimit, interp)
	port := &dispatch.InputPort{Name: "default"}

	//	array is referenced by the dispatcher's register callback before
	//	it is assigned — safe because the callback only runs once a
	//	channel goes through DisposeForInput, which is always after
	//	NewArray has returned and array has been set.
	var array *reactor.Array
	dispatcher := dispatch.NewDispatcher(interp, func(ch *channel.Channel) {
		array.Register(ch)
	})
	//	HandleReady re-acquires ch's lock itself (dispatch.Dispatcher.
	//	HandleReady's own first step); the reactor has already released
	//	its hold on ch by the time this submitted task runs.
	array = reactor.NewArray(0, func(ch *channel.Channel) {
		executor.Submit(func(*dispatch.ExecutionSlot) {
			dispatcher.HandleReady(ch, port)
		})
	}, interp)

	poller := reactor.NewPoller(pollInterval, func(ch *channel.Channel) {
		executor.Submit(func(*dispatch.ExecutionSlot) {
			dispatcher.HandleReady(ch, port)
		})
	}, interp)

	listenScheme, listenAddress, ok := splitScheme(c.String("listen"))
	if !ok {
		log.Error("invalid --listen URI: " + c.String("listen"))
		return cli.NewExitError("invalid --listen URI", 1)
	}

	ln, err := transport.Listen(listenScheme, listenAddress, transport.WireProtocol{}, "wire", false)
	if err != nil {
		log.Error(err.Error())
		return cli.NewExitError(err.Error(), 1)
	}

	if certFile := c.String("tls-cert"); certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, c.String("tls-key"))
		if err != nil {
			log.Error("loading --tls-cert/--tls-key: " + err.Error())
			return cli.NewExitError(err.Error(), 1)
		}
		ln.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		log.Notice("TLS Wrapper Protocol enabled on " + c.String("listen"))
	}

	core := lifecycle.New(array, poller, executor, persistentTimeout, drainTimeout, log)
	core.Init([]lifecycle.AcceptLoop{ln}, func(ch *channel.Channel) {
		array.Register(ch)
	})

	registerCollectors(executor)
	go serveAdmin(c.String("admin-listen"), core, array, log)

	log.Notice("commcored listening on " + c.String("listen"))
	if !c.Bool("syslog") {
		os.Stdout.WriteString(commcore.Green("commcored") + " ready, serving " + commcore.Cyan(c.String("listen")) + "\n")
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig := <-stopSignal
	log.Notice("commcored stopping on signal " + sig.String())

	return core.Shutdown()
}

func splitScheme(location string) (scheme, address string, ok bool) {
	for i := 0; i+2 < len(location); i++ {
		if location[i] == ':' && location[i+1] == '/' && location[i+2] == '/' {
			return location[:i], location[i+3:], true
		}
	}
	return "", "", false
}

func registerCollectors(executor *dispatch.Executor) {
	for _, c := range executor.Collectors() {
		_ = prometheus.Register(c)
	}
}

func serveAdmin(addr string, core *lifecycle.Core, array *reactor.Array, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"active": core.IsActive(),
			"shards": array.Len(),
		})
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("admin listener: " + err.Error())
	}
}
