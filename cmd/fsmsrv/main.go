package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/qcloop/daq"
	"github.com/nasa-jpl/qcloop/fsm"
	"github.com/nasa-jpl/qcloop/mccdaq"
	"github.com/nasa-jpl/qcloop/monitor"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "fsmsrv.yml"
	k              *koanf.Koanf
)

func setupconfig() {
	var err error
	k, err = LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `fsmsrv closes the loop between a quad cell detector and a fast steering mirror
through a Measurement Computing DAQ board, and exposes an HTTP interface to it.

Usage:
	fsmsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `fsmsrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Any key may be overridden from the environment with the FSMSRV_ prefix and
underscores between levels, e.g. FSMSRV_LOOP_PERIOD=2ms or FSMSRV_MOCK=true.

While running, the config file is watched.  Edits to Loop.X, Loop.Y (gains)
and Loop.Period take effect without a restart.  Invalid gains are logged and
ignored.

Mock: true replaces the board with a simulated mirror, for trying the HTTP
interface without hardware.

The loop is idle after startup.  POST /fsm/start to close it, POST /fsm/stop
to open it, POST /fsm/center to return the mirror to the safe voltage.
GET /endpoints lists every route.`
	fmt.Println(str)
}

func mkconf() {
	c, err := Unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c, _ := Unmarshal(k)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("fsmsrv version %v\n", Version)
}

// openBoard connects to the board, retrying per c.Board.Retry
func openBoard(ctx context.Context, c Config) (daq.Board, error) {
	if c.Mock {
		log.Println("using a simulated mirror in place of the DAQ board")
		return newPlant(c.Loop, c.Board.InputScale()), nil
	}
	open := func() (daq.Board, error) {
		b, err := mccdaq.Open(c.Board.Number, c.Board.Range, c.Board.InputScale())
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("connecting to board %d failed, retrying in %v: %v", c.Board.Number, wait, err)
	}
	if !c.Spinner {
		return daq.Open(ctx, open, c.Board.Retry, notify)
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           fmt.Sprintf("connecting to board %d", c.Board.Number),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return daq.Open(ctx, open, c.Board.Retry, notify)
	}
	spinner.Start()
	b, err := daq.Open(ctx, open, c.Board.Retry, func(err error, wait time.Duration) {
		spinner.Message(fmt.Sprintf("retrying in %v: %v", wait.Round(time.Millisecond), err))
	})
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return nil, err
	}
	spinner.StopMessage(fmt.Sprintf("connected to board %d", c.Board.Number))
	spinner.Stop()
	return b, nil
}

// reload applies the live-tunable parts of c to the loop
func reload(loop *fsm.ControlLoop, c Config) {
	x, y := loop.Gains()
	if x != c.Loop.X || y != c.Loop.Y {
		err := loop.Reconfigure(c.Loop.X, c.Loop.Y)
		if err != nil {
			log.Printf("ignoring gains from %s: %v", ConfigFileName, err)
		} else {
			log.Printf("gains reloaded from %s: x %+v y %+v", ConfigFileName, c.Loop.X, c.Loop.Y)
		}
	}
	if c.Loop.Period != loop.Period() {
		err := loop.SetPeriod(c.Loop.Period)
		if err != nil {
			log.Printf("ignoring period from %s: %v", ConfigFileName, err)
		} else {
			log.Printf("period reloaded from %s: %v", ConfigFileName, c.Loop.Period)
		}
	}
}

// watch reloads the config file into the loop whenever it changes
func watch(loop *fsm.ControlLoop) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("watching %s: %v", ConfigFileName, err)
			return
		}
		kk, err := LoadConfig(ConfigFileName)
		if err != nil {
			log.Println(err)
			return
		}
		c, err := Unmarshal(kk)
		if err != nil {
			log.Println(err)
			return
		}
		reload(loop, c)
	})
	if err != nil {
		log.Printf("%s will not be watched for changes: %v", ConfigFileName, err)
	}
}

func run() {
	c, err := Unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	board, err := openBoard(ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	guard := daq.NewGuard(board, c.Board.Timeout)
	loop, err := fsm.New(guard, guard, c.Loop)
	if err != nil {
		guard.Close()
		log.Fatal(err)
	}
	loop.Center(ctx)
	mon := monitor.New(loop, c.Monitor.Tick, c.Monitor.Capacity)
	reg := prometheus.NewRegistry()
	err = registerMetrics(reg, loop, guard)
	if err != nil {
		log.Println("metrics will not be served:", err)
	}
	watch(loop)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(loop, mon, reg)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Println("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
		wg.Wait()
		loop.Center(sctx)
		err := guard.Close()
		if err != nil {
			log.Println("closing board:", err)
		}
	}()

	log.Println("now listening for requests at ", c.Addr)
	err = srv.ListenAndServe()
	if err != http.ErrServerClosed {
		log.Println(err)
		cancel()
	}
	<-done
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
