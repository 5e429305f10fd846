package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/gorilla/websocket"

	"golang.org/x/term"

	"github.com/dabiiplay/pagina.mods-Backend/asset"
	"github.com/dabiiplay/pagina.mods-Backend/hub"
	"github.com/dabiiplay/pagina.mods-Backend/persist"
)

const HubCtlVersion = "0.1.0"

const DefaultPort = 8080
const DefaultDbPath = "canvas.sqlite3"
const DefaultHubUrl = "ws://127.0.0.1:8080/ws"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Canvas hub control.

The asset service secret is read from $HUB_ASSET_SECRET, with an
interactive prompt as fallback.

Usage:
    hubctl serve [--port=<port>] [--db=<db>]
        [--asset_url=<asset_url>]
        [--asset_key_id=<asset_key_id>]
    hubctl watch [--hub_url=<hub_url>]
    hubctl send [--hub_url=<hub_url>] <message>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    -p --port=<port>                 Listen port [default: %d].
    --db=<db>                        Sqlite database path [default: %s].
    --asset_url=<asset_url>          Asset service base url. Without it the
                                     asset pipeline is disabled.
    --asset_key_id=<asset_key_id>    Asset service key id.
    --hub_url=<hub_url>              Hub websocket url [default: %s].`,
		DefaultPort,
		DefaultDbPath,
		DefaultHubUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], HubCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")
	dbPath, _ := opts.String("--db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persist.NewElementStore(dbPath)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	var assets hub.AssetStore
	if assetUrlAny := opts["--asset_url"]; assetUrlAny != nil {
		assetUrl := assetUrlAny.(string)
		var keyId string
		if keyIdAny := opts["--asset_key_id"]; keyIdAny != nil {
			keyId = keyIdAny.(string)
		}
		secret := os.Getenv("HUB_ASSET_SECRET")
		if secret == "" {
			fmt.Print("asset service secret: ")
			secretBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				panic(err)
			}
			secret = string(secretBytes)
		}
		assets = asset.NewClientWithDefaults(assetUrl, keyId, secret)
	}

	registry := hub.NewConnectionRegistry()
	engine := hub.NewEngineWithDefaults(ctx, registry, store, assets)
	defer engine.Close()

	server := hub.NewServerWithDefaults(ctx, engine)
	defer server.Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Router(),
	}

	go func() {
		Out.Printf("canvas hub listening on :%d\n", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Err.Printf("listen = %s\n", err)
		}
	}()

	// reserve buffer size 1 so the notifier is not blocked
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	Out.Printf("signal %s, shutting down\n", sig)
	cancel()
	httpServer.Close()
}

func watch(opts docopt.Opts) {
	hubUrl, _ := opts.String("--hub_url")

	ws, _, err := websocket.DefaultDialer.Dial(hubUrl, nil)
	if err != nil {
		panic(err)
	}
	defer ws.Close()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			Err.Printf("read = %s\n", err)
			return
		}
		Out.Printf("%s\n", message)
	}
}

func send(opts docopt.Opts) {
	hubUrl, _ := opts.String("--hub_url")
	message, _ := opts.String("<message>")

	ws, _, err := websocket.DefaultDialer.Dial(hubUrl, nil)
	if err != nil {
		panic(err)
	}
	defer ws.Close()

	// the initial state arrives first on every connection
	if _, initialState, err := ws.ReadMessage(); err == nil {
		Out.Printf("%s\n", initialState)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		panic(err)
	}
	ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}
