// Command smsdctl is thin process-management glue around smsd: start it in
// the background, stop it, report whether it's running, and install a
// launchd agent so it starts on login. None of this is core daemon logic;
// it only checks/manages a PID file and shells out to launchctl.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	stateDir := os.Getenv("STATE_DIR")
	if stateDir == "" {
		home, _ := os.UserHomeDir()
		stateDir = filepath.Join(home, ".smsd")
	}
	pidFile := filepath.Join(stateDir, "daemon.pid")

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart(stateDir, pidFile)
	case "stop":
		err = cmdStop(pidFile)
	case "status":
		err = cmdStatus(pidFile)
	case "install":
		err = cmdInstall(stateDir)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "smsdctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: smsdctl <start|stop|status|install>")
}

// runningPID returns the PID recorded in pidFile if it names a live smsd
// process, or 0 if the file is absent, stale, or names some other program
// (a recycled PID).
func runningPID(pidFile string) (int32, *process.Process, error) {
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil, nil // corrupt pid file, treat as not running
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, nil, nil
	}
	running, _ := proc.IsRunning()
	if !running {
		return 0, nil, nil
	}
	name, _ := proc.Name()
	cmdline, _ := proc.Cmdline()
	if !strings.Contains(name, "smsd") && !strings.Contains(cmdline, "smsd") {
		return 0, nil, nil
	}
	return int32(pid), proc, nil
}

func cmdStart(stateDir, pidFile string) error {
	if pid, _, err := runningPID(pidFile); err != nil {
		return err
	} else if pid != 0 {
		fmt.Printf("smsd already running (pid %d)\n", pid)
		return nil
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	logPath := filepath.Join(stateDir, "smsd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command("smsd")
	cmd.Env = append(os.Environ(), "BUD_SERVICE=1", "STATE_DIR="+stateDir)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start smsd: %w", err)
	}

	fmt.Printf("smsd started (pid %d), logging to %s\n", cmd.Process.Pid, logPath)
	return nil
}

func cmdStop(pidFile string) error {
	pid, proc, err := runningPID(pidFile)
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Println("smsd is not running")
		return nil
	}

	if err := proc.Terminate(); err != nil {
		return fmt.Errorf("send SIGTERM to pid %d: %w", pid, err)
	}
	fmt.Printf("smsd (pid %d) asked to stop\n", pid)
	return nil
}

func cmdStatus(pidFile string) error {
	pid, proc, err := runningPID(pidFile)
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Println("smsd is not running")
		return nil
	}

	started := "unknown"
	if createTime, err := proc.CreateTime(); err == nil {
		started = time.UnixMilli(createTime).Format("2006-01-02 15:04:05")
	}
	fmt.Printf("smsd is running (pid %d, started %s)\n", pid, started)
	return nil
}

const launchdAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.smsd.daemon</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.SmsdPath}}</string>
	</array>
	<key>EnvironmentVariables</key>
	<dict>
		<key>BUD_SERVICE</key>
		<string>1</string>
		<key>STATE_DIR</key>
		<string>{{.StateDir}}</string>
	</dict>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.StateDir}}/smsd.log</string>
	<key>StandardErrorPath</key>
	<string>{{.StateDir}}/smsd.log</string>
</dict>
</plist>
`

// cmdInstall writes a launchd agent plist and loads it, so smsd starts on
// login. This is macOS-specific glue, same scope as the daemon's chat.db
// dependency.
func cmdInstall(stateDir string) error {
	smsdPath, err := exec.LookPath("smsd")
	if err != nil {
		return fmt.Errorf("find smsd on PATH: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	agentsDir := filepath.Join(home, "Library", "LaunchAgents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return fmt.Errorf("create LaunchAgents dir: %w", err)
	}
	plistPath := filepath.Join(agentsDir, "com.smsd.daemon.plist")

	tmpl := template.Must(template.New("plist").Parse(launchdAgentTemplate))
	f, err := os.Create(plistPath)
	if err != nil {
		return fmt.Errorf("create plist: %w", err)
	}
	defer f.Close()

	data := struct{ SmsdPath, StateDir string }{SmsdPath: smsdPath, StateDir: stateDir}
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render plist: %w", err)
	}

	if err := exec.Command("launchctl", "load", plistPath).Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}

	fmt.Printf("installed launchd agent at %s\n", plistPath)
	return nil
}
