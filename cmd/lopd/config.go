package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	defaultConfigFilename = "lopd.conf"
	defaultLogFilename    = "lopd.log"
	defaultDBFilename     = "ledger.db"
	defaultLogDirname     = "logs"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultMaxLogZips     = 16
	defaultListen         = "127.0.0.1:7545"
	defaultChainID        = 1337
	defaultPingPeriod     = 30 * time.Second
	defaultFeedBuffer     = 256

	defaultEngineAddr = "0x111111125421cA6dc452d289314280a0f8842A65"
)

var defaultAppDataDir = appDataDir("lopd")

// lopdConf is the validated daemon configuration.
type lopdConf struct {
	DBPath     string
	InMemory   bool
	Listen     string
	ChainID    int64
	Genesis    uint64
	Engine     common.Address
	DevMode    bool
	PingPeriod time.Duration
	FeedBuffer int
}

type flagsData struct {
	AppDataDir  string `short:"A" long:"appdata" env:"LOPD_APPDATA" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" env:"LOPD_CONFIGFILE" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" env:"LOPD_DATADIR" description:"Directory to store the ledger database"`
	LogDir      string `long:"logdir" env:"LOPD_LOGDIR" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" env:"LOPD_DEBUGLEVEL" description:"Logging level {trace, debug, info, warn, error, critical}, or SUBSYS=level,... Use show to list subsystems"`
	MaxLogZips  int    `long:"maxlogzips" env:"LOPD_MAXLOGZIPS" description:"The number of rolled log files to keep. 0 keeps all"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	Listen     string        `long:"listen" env:"LOPD_LISTEN" description:"host:port for the HTTP API and websocket feed"`
	ChainID    int64         `long:"chainid" env:"LOPD_CHAINID" description:"Chain id of the ledger, part of every order signature domain"`
	Genesis    uint64        `long:"genesis" env:"LOPD_GENESIS" description:"Initial clock of a new ledger as a unix timestamp. Defaults to now"`
	Engine     string        `long:"engine" env:"LOPD_ENGINE" description:"Address of the fill engine, the verifying contract of order signatures"`
	InMemory   bool          `long:"inmemory" env:"LOPD_INMEMORY" description:"Keep the ledger in memory only"`
	DevMode    bool          `long:"dev" env:"LOPD_DEV" description:"Enable the clock and funding API routes"`
	PingPeriod time.Duration `long:"pingperiod" env:"LOPD_PINGPERIOD" description:"Websocket ping interval"`
	FeedBuffer int           `long:"feedbuffer" env:"LOPD_FEEDBUFFER" description:"Events buffered per websocket client before they are dropped"`
}

func appDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + name
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Local", strings.ToUpper(name[:1])+name[1:])
	}
	return filepath.Join(home, "."+name)
}

// cleanAndExpandPath expands environment variables and a leading ~ in path.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, path[1:])
}

// loadConfig initializes and parses the config using a .env file, a config
// file and command line options, in increasing order of precedence.
func loadConfig() (*lopdConf, error) {
	// Environment variables already set win over the .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := flagsData{
		AppDataDir: defaultAppDataDir,
		DebugLevel: defaultLogLevel,
		MaxLogZips: defaultMaxLogZips,
		Listen:     defaultListen,
		ChainID:    defaultChainID,
		Engine:     defaultEngineAddr,
		PingPeriod: defaultPingPeriod,
		FeedBuffer: defaultFeedBuffer,
	}

	// Pre-parse the command line options to find an alternative config file
	// or the version flag.
	var preCfg flagsData
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	if _, err := preParser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if preCfg.ShowVersion {
		fmt.Printf("lopd version %s (Go version %s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}
	if preCfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if preCfg.AppDataDir != "" {
		var err error
		if cfg.AppDataDir, err = filepath.Abs(cleanAndExpandPath(preCfg.AppDataDir)); err != nil {
			return nil, fmt.Errorf("unable to determine working directory: %w", err)
		}
	}
	isDefaultConfigFile := preCfg.ConfigFile == ""
	if isDefaultConfigFile {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else if !filepath.IsAbs(preCfg.ConfigFile) {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, preCfg.ConfigFile)
	}

	configFile := "NONE (defaults)"
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Only a non-default config file must exist.
		if !isDefaultConfigFile {
			return nil, err
		}
	} else {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", preCfg.ConfigFile, err)
		}
		configFile = preCfg.ConfigFile
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, defaultDataDirname)
	} else if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, cfg.DataDir)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	} else if !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, cfg.LogDir)
	}
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Initialize log rotation. The loggers may be used after this.
	if cfg.MaxLogZips < 0 {
		cfg.MaxLogZips = 0
	}
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), cfg.MaxLogZips)
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	log.Infof("App data folder: %s", cfg.AppDataDir)
	log.Infof("Log folder:      %s", cfg.LogDir)
	log.Infof("Config file:     %s", configFile)

	if !common.IsHexAddress(cfg.Engine) {
		return nil, fmt.Errorf("invalid engine address %q", cfg.Engine)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainID)
	}
	if cfg.Genesis == 0 {
		cfg.Genesis = uint64(time.Now().Unix())
	}

	conf := &lopdConf{
		InMemory:   cfg.InMemory,
		Listen:     cfg.Listen,
		ChainID:    cfg.ChainID,
		Genesis:    cfg.Genesis,
		Engine:     common.HexToAddress(cfg.Engine),
		DevMode:    cfg.DevMode,
		PingPeriod: cfg.PingPeriod,
		FeedBuffer: cfg.FeedBuffer,
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, err
		}
		conf.DBPath = filepath.Join(cfg.DataDir, defaultDBFilename)
		log.Infof("Data folder:     %s", cfg.DataDir)
	}
	return conf, nil
}
