package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/spirio-sessions/hmmmusictool/config"
	"github.com/spirio-sessions/hmmmusictool/library"
	"github.com/spirio-sessions/hmmmusictool/piano"
	"github.com/spirio-sessions/hmmmusictool/player"
	"github.com/spirio-sessions/hmmmusictool/server"
	"github.com/spirio-sessions/hmmmusictool/session"
)

var version string

func main() {
	app := cli.NewApp()
	app.Version = version
	app.Compiled = time.Now()
	app.Name = "hmmmusictool"
	app.Usage = "improvise along with a performer using an adaptive hidden markov model"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file (default hmmmusictool.yaml in $HMM_CFG_PATH or .)",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug logging",
		},
	}

	var cfg *config.Config
	app.Before = func(c *cli.Context) (err error) {
		cfg, err = config.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		return setupLogging(cfg.LogLevel, cfg.LogPath, c.GlobalBool("debug"))
	}

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "serve browser clients",
			Action: func(c *cli.Context) error {
				return serve(cfg)
			},
		},
		{
			Name:  "play",
			Usage: "play along on a local MIDI keyboard",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "saved model to start from"},
				cli.IntFlag{Name: "bpm", Value: 120, Usage: "metronome tempo for beat based triggering"},
				cli.IntFlag{Name: "in", Value: -1, Usage: "input device (default: last found)"},
				cli.IntFlag{Name: "out", Value: -1, Usage: "output device (default: last found)"},
				cli.StringFlag{Name: "history", Value: "music_history.json", Usage: "file the played presses are saved to"},
				cli.BoolFlag{Name: "polite", Usage: "stay silent while keys are held"},
			},
			Action: func(c *cli.Context) error {
				return play(c, cfg)
			},
		},
		{
			Name:  "train",
			Usage: "pretrain a model on a MIDI corpus and save it",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "files", Usage: "corpus directory (default from config)"},
				cli.StringFlag{Name: "name", Value: "pretrained", Usage: "name prefix of the saved model"},
			},
			Action: func(c *cli.Context) error {
				return train(c, cfg)
			},
		},
		{
			Name:  "sample",
			Usage: "print a melody as json",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "saved model to sample (default: fresh session)"},
			},
			Action: func(c *cli.Context) error {
				s, err := open(cfg, c.String("model"))
				if err != nil {
					return err
				}
				notes, err := s.Sample()
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(notes)
			},
		},
		{
			Name:  "list",
			Usage: "list saved models",
			Action: func(c *cli.Context) error {
				lib, err := library.Open(cfg.Library)
				if err != nil {
					return err
				}
				for _, name := range lib.List() {
					fmt.Println(name)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func open(cfg *config.Config, model string) (*session.Session, error) {
	if model == "" {
		return session.New(cfg.Session)
	}
	lib, err := library.Open(cfg.Library)
	if err != nil {
		return nil, err
	}
	rec, err := lib.Load(model)
	if err != nil {
		return nil, err
	}
	return session.Restore(rec)
}

func serve(cfg *config.Config) error {
	logger := log.WithFields(log.Fields{
		"function": "serve",
	})
	lib, err := library.Open(cfg.Library)
	if err != nil {
		return err
	}
	var opts []server.Option
	if cfg.BeatAddr != "" {
		beats, err := server.ListenBeats(cfg.BeatAddr)
		if err != nil {
			logger.Warnf("no beats: %s", err)
		} else {
			defer beats.Close()
			opts = append(opts, server.WithBeats(beats))
			logger.Infof("listening for beats on %s", beats.Addr())
		}
	}
	srv, err := server.New(server.Config{
		Session:   cfg.Session,
		Keepalive: server.DefaultKeepalive,
		Salt:      "hmmmusictool",
	}, lib, opts...)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	return srv.ListenAndServe(cfg.Listen)
}

func play(c *cli.Context, cfg *config.Config) error {
	s, err := open(cfg, c.String("model"))
	if err != nil {
		return err
	}
	var ports []int
	if c.Int("in") >= 0 && c.Int("out") >= 0 {
		ports = []int{c.Int("in"), c.Int("out")}
	}
	keyboard, err := piano.New(ports...)
	if err != nil {
		return err
	}
	defer keyboard.Close()

	p := player.New(s, keyboard, keyboard, c.Int("bpm"))
	p.HistoryFile = c.String("history")
	p.Polite = c.Bool("polite")
	fmt.Println(`
	 _______________________________________
	 |  | | | |  |  | | | | | |  |  | | | |  |
	 |  | | | |  |  | | | | | |  |  | | | |  |
	 |  |_| |_|  |  |_| |_| |_|  |  |_| |_|  |
	 |   |   |   |   |   |   |   |   |   |   |
	 |___|___|___|___|___|___|___|___|___|___|

	 Lets play some music!`)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return p.Start(ctx)
}

func train(c *cli.Context, cfg *config.Config) error {
	sc := cfg.Session
	sc.Pretrain = true
	if files := c.String("files"); files != "" {
		sc.Corpus = files
	}
	s, err := session.New(sc)
	if err != nil {
		return err
	}
	lib, err := library.Open(cfg.Library)
	if err != nil {
		return err
	}
	name, err := lib.Save(c.String("name"), s.Record())
	if err != nil {
		return errors.Wrap(err, "save")
	}
	fmt.Println(name)
	return nil
}
