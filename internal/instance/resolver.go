package instance

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConflictResolver decides what to do when a supervisor is already running
// against this state directory.
type ConflictResolver struct {
	mgr         *Manager
	interactive bool
}

// NewConflictResolver creates a resolver bound to mgr.
func NewConflictResolver(mgr *Manager, interactive bool) *ConflictResolver {
	return &ConflictResolver{mgr: mgr, interactive: interactive}
}

// Resolve handles the conflict. It may exit the process for some choices.
func (r *ConflictResolver) Resolve(info *Info) error {
	if !r.interactive {
		return r.handleNonInteractive(info)
	}
	return r.handleInteractive(info)
}

func (r *ConflictResolver) handleInteractive(info *Info) error {
	r.displayConflictInfo(info)
	reader := bufio.NewReader(os.Stdin)

	for {
		choice, err := r.promptUser(reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}

		switch choice {
		case 1:
			return r.stopExisting(info, false)
		case 2:
			return r.useDifferentPort(info)
		case 3:
			return r.stopExisting(info, true)
		case 4:
			fmt.Println("\ncanceling startup")
			os.Exit(0)
		default:
			fmt.Println("invalid choice, enter 1-4")
		}
	}
}

// handleNonInteractive reads COS_ON_CONFLICT ("exit", "kill", or "port");
// "exit" is the safe default for a process run under a supervisor or cron.
func (r *ConflictResolver) handleNonInteractive(info *Info) error {
	strategy := os.Getenv("COS_ON_CONFLICT")
	if strategy == "" {
		strategy = "exit"
	}

	fmt.Printf("port %d is in use (pid %d); conflict strategy: %s\n", info.Port, info.PID, strategy)

	switch strategy {
	case "exit":
		fmt.Fprintf(os.Stderr, "another instance is running on port %d (pid %d)\n", info.Port, info.PID)
		fmt.Fprintf(os.Stderr, "set COS_ON_CONFLICT to 'kill' or 'port' to change this\n")
		os.Exit(1)
		return nil
	case "kill":
		return r.stopExisting(info, true)
	case "port":
		return r.useDifferentPort(info)
	default:
		return fmt.Errorf("unknown conflict strategy: %s", strategy)
	}
}

func (r *ConflictResolver) displayConflictInfo(info *Info) {
	fmt.Println()
	fmt.Println("Another cos supervisor is already running:")
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n", info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second))

	status := "not responding"
	if info.IsResponding {
		status = "running and responding"
	}
	fmt.Printf("  Status:  %s\n", status)
	fmt.Println()
	fmt.Println("  1. Stop the existing instance and start a new one")
	fmt.Println("  2. Start on a different port")
	fmt.Println("  3. Force kill the existing instance")
	fmt.Println("  4. Exit")
	fmt.Println()
}

func (r *ConflictResolver) promptUser(reader *bufio.Reader) (int, error) {
	fmt.Print("enter choice (1-4): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}
	input = strings.TrimSpace(input)
	choice, err := strconv.Atoi(input)
	if err != nil {
		return 0, fmt.Errorf("invalid input")
	}
	return choice, nil
}

func (r *ConflictResolver) stopExisting(info *Info, force bool) error {
	if !force && info.IsResponding {
		fmt.Println("sending graceful shutdown request...")
		if err := SendShutdownRequest(info.Port); err != nil {
			fmt.Printf("graceful shutdown failed: %v\n", err)
			force = true
		} else {
			time.Sleep(3 * time.Second)
			running, _ := IsProcessRunning(info.PID)
			if !running {
				fmt.Println("previous instance stopped")
				r.mgr.RemovePIDFile()
				return nil
			}
			fmt.Println("still running after graceful shutdown, forcing")
			force = true
		}
	}

	if force {
		fmt.Printf("force killing process %d...\n", info.PID)
		if err := KillProcess(info.PID); err != nil {
			return fmt.Errorf("killing process: %w", err)
		}
		time.Sleep(time.Second)
		r.mgr.RemovePIDFile()
		fmt.Println("previous instance terminated")
	}
	return nil
}

func (r *ConflictResolver) useDifferentPort(info *Info) error {
	newPort := FindAvailablePort(r.mgr.GetPort() + 1)
	if newPort == 0 {
		return fmt.Errorf("could not find an available port")
	}
	fmt.Printf("starting on port %d instead\n", newPort)
	r.mgr.SetPort(newPort)
	return nil
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
