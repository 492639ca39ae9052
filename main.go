package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	_ "github.com/hootworks/hootbot/home"
	"github.com/hootworks/hootbot/sys"
)

const botPIDFile = ".bot.pid"

func main() {
	// 0. Recover from panics (LogFatal uses panic to ensure defers run)
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	// 1. Load configuration early
	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal("Failed to load config: %v", err)
	}

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	clearAll := flag.Bool("clear-all", false, "Force clear guild commands (scan all guilds)")
	flag.Parse()

	// 2. Initialize Logger (handle flags)
	logName := sys.InitLogger(*silent || cfg.Silent, true)

	botName := sys.GetProjectName()
	sys.LogInfo("Starting %s...", botName)

	// 3. Initialize Database & Logs
	sys.LogInfo("Initializing %s...", filepath.Base(cfg.DatabasePath))
	if logName != "" {
		sys.LogInfo("Initializing %s...", filepath.Base(logName))
	}

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal("Failed to initialize database: %v", err)
	}
	defer sys.CloseDatabase()

	// 4. Open or create the PID file
	f, err := os.OpenFile(botPIDFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal("Failed to open PID file: %v", err)
	}
	defer f.Close()

	// 5. Try to acquire an exclusive lock, evicting a running instance
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}

		if err != syscall.EWOULDBLOCK {
			sys.LogFatal("Failed to lock PID file: %v", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil {
			_ = f.Close()
			<-ticker.C
			f, _ = os.OpenFile(botPIDFile, os.O_RDWR|os.O_CREATE, 0644)
			continue
		}

		if oldPid == os.Getpid() {
			break
		}

		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			<-ticker.C
			continue
		}

		sys.LogInfo("Killing running instance... (PID: %d)", oldPid)
		_ = process.Signal(syscall.SIGTERM)

		terminated := false
		timeout := time.After(5 * time.Second)
	waitLoop:
		for {
			select {
			case <-ticker.C:
				if err := process.Signal(syscall.Signal(0)); err != nil {
					terminated = true
					break waitLoop
				}
			case <-timeout:
				break waitLoop
			}
		}

		if !terminated {
			sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", oldPid)
			_ = process.Signal(syscall.SIGKILL)

			killTimeout := time.After(2 * time.Second)
			killTicker := time.NewTicker(50 * time.Millisecond)
			defer killTicker.Stop()

		killWait:
			for {
				select {
				case <-killTicker.C:
					if err := process.Signal(syscall.Signal(0)); err != nil {
						break killWait
					}
				case <-killTimeout:
					sys.LogWarn("Process %d still exists after SIGKILL", oldPid)
					break killWait
				}
			}
		}

		sys.LogInfo("Old instance terminated.")
	}

	// 6. We have the lock. Write our PID.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = os.Remove(botPIDFile)
	}()

	// 7. Run bot (blocks until shutdown signal)
	if err := run(cfg, *silent, *skipReg, *clearAll); err != nil {
		sys.LogFatal("%v", err)
	}
}

func run(cfg *sys.Config, silent bool, skipReg bool, clearAll bool) error {
	// 1. Setup global context that responds to shutdown signals
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	// SIGUSR1 dumps all goroutines for stuck-session debugging
	sys.SafeGo(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGUSR1)
		for range sigChan {
			sys.LogInfo("Received SIGUSR1, dumping goroutines to goroutines.txt")
			f, err := os.Create("goroutines.txt")
			if err != nil {
				sys.LogError("Failed to create goroutines.txt: %v", err)
				continue
			}
			buf := make([]byte, 1<<20)
			length := runtime.Stack(buf, true)
			f.Write(buf[:length])
			f.Close()
			sys.LogInfo("Goroutines dumped")
		}
	})

	sys.SetAppContext(ctx)

	// 2. Create disgo client with retries for network resilience
	var client bot.Client
	var err error
	for i := 1; i <= 5; i++ {
		client, err = sys.CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		if i == 5 {
			return fmt.Errorf("failed to create Discord client after %d attempts: %w", i, err)
		}
		sys.LogWarn("Failed to create Discord client (attempt %d/5): %v. Retrying in 5s...", i, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	defer client.Close(ctx)

	// 3. Command Registration
	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID, clearAll); err != nil {
			sys.LogError("Command registration failed: %v", err)
		}
	} else {
		sys.LogInfo("Skipping command registration as requested.")
	}

	// 4. Connect to Gateway
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo("Shutting down all daemons...")
	sys.ShutdownDaemons(context.Background())

	sys.LogInfo("Shutting down %s...", sys.GetProjectName())

	return nil
}
