// Command reload tells a running speed records service to reopen its log
// file and reload its data, by sending SIGHUP to the pid in its pid file.
//
//	go run . [pid file]
package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const defaultPidFile = "src/speedrecords.pid"

func main() {
	pidFile := defaultPidFile
	if len(os.Args) > 1 {
		pidFile = os.Args[1]
	}

	pid, err := readPid(pidFile)
	if err != nil {
		log.Fatal("Failed to read pid file: ", err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		log.Fatalf("Failed to send SIGHUP to %d: %v", pid, err)
	}
	log.Printf("sent SIGHUP to %d", pid)
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
