package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dougsko/audiohook/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/audiohookd.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'PLAY:tone:440')")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	client := client.NewSocketClient(*socketPath)

	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(2)
	}
}

func showHelp() {
	fmt.Println("audiohookctl - audio hook daemon control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/audiohookd.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get daemon and backend status")
	fmt.Println("  DRIVERS                   List pro-audio drivers")
	fmt.Println("  SESSIONS                  Get recent client sessions")
	fmt.Println("  SESSIONS:10               Get last 10 sessions")
	fmt.Println("  SESSIONS:active           Get sessions that are still open")
	fmt.Println("  EVENTS:<session id>       Get the event log of a session")
	fmt.Println("  PLAY                      Play the configured source")
	fmt.Println("  PLAY:tone:<freq>          Play a sine tone")
	fmt.Println("  PLAY:silence              Play silence")
	fmt.Println("  PLAY:file:<path>          Play a WAV or MP3 file")
	fmt.Println("  STOP                      Stop playback")
	fmt.Println("  RESET                     Reload the pro-audio driver")
	fmt.Println("  PANEL                     Open the driver control panel")
	fmt.Println("  LEVELS                    Get output levels and spectrum")
	fmt.Println("  CONFIG:list               List configuration values")
	fmt.Println("  CONFIG:get:<key>          Get one configuration value")
	fmt.Println("  PING                      Test connection")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s PLAY:tone:1000\n", os.Args[0])
	fmt.Printf("  %s CONFIG:get:hook.backend\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/audiohookd.sock\n")
}
