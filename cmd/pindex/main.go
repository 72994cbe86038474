package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pindex/pindex/server"
)

// config is the TOML configuration file structure. Flags override the
// file. Everything is read once at startup; nothing rereads it.
type config struct {
	Port         string
	PProfPort    string
	Storage      string
	DataDir      string
	Mysql        string
	Upstream     string
	FetchTimeout duration
	MaxFetches   int
	Tokenfile    string
	Overwrite    bool
}

// duration lets TOML files say FetchTimeout = "45s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func main() {
	var (
		configFile = flag.String("config-file", "", "path to configuration file")
		storage    = flag.String("storage", "", "location of the distribution file storage")
		dataDir    = flag.String("data-dir", "", "directory to keep the embedded database in")
		port       = flag.String("port", "", "port to listen on")
		upstream   = flag.String("upstream", "", "base URL of the upstream index")
	)
	flag.Parse()

	var c = config{
		Port:       "14000",
		Upstream:   "https://pypi.org",
		MaxFetches: 4,
	}
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &c); err != nil {
			log.Fatalf("Error reading configuration file: %s", err)
		}
	}
	if *storage != "" {
		c.Storage = *storage
	}
	if *dataDir != "" {
		c.DataDir = *dataDir
	}
	if *port != "" {
		c.Port = *port
	}
	if *upstream != "" {
		c.Upstream = *upstream
	}

	files := parselocation(c.Storage, "packages")
	if files == nil {
		log.Fatalf("Could not understand storage location %s", c.Storage)
	}

	var validator server.TokenDecoder
	if c.Tokenfile != "" {
		var err error
		validator, err = server.NewListDecoderFile(c.Tokenfile)
		if err != nil {
			log.Fatalf("Error parsing token file: %s", err)
		}
	}

	s := &server.RESTServer{
		PortNumber:   c.Port,
		PProfPort:    c.PProfPort,
		Files:        files,
		DataDir:      c.DataDir,
		MySQL:        c.Mysql,
		Upstream:     c.Upstream,
		FetchTimeout: c.FetchTimeout.Duration,
		MaxFetches:   c.MaxFetches,
		Overwrite:    c.Overwrite,
		Validator:    validator,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Received signal, shutting down")
		s.Stop()
	}()

	if err := s.Run(); err != nil {
		log.Println(err)
	}
}
