// Command chatclient connects to a chat server, prints every received line
// and sends each line typed on stdin.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/cyberinferno/go-chat/chatclient"
)

type options struct {
	Addr  string `long:"addr" env:"CHAT_ADDR" default:"127.0.0.1:8888" description:"Chat server host and port."`
	Login string `long:"login" env:"CHAT_LOGIN" description:"Log in with this name right after connecting."`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run relays lines between the server and in/out until either side ends.
func run(opts options, in io.Reader, out io.Writer) error {
	client := chatclient.New(chatclient.DefaultConfig(opts.Addr))
	client.OnLine(func(e chatclient.LineEvent) {
		fmt.Fprintln(out, e.Line)
	})
	client.OnError(func(e chatclient.ErrorEvent) {
		fmt.Fprintln(os.Stderr, "error:", e.Error)
	})

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	if opts.Login != "" {
		if err := client.Login(opts.Login); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	done := client.Done()
	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := client.SendLine(line); err != nil {
				if errors.Is(err, chatclient.ErrNotConnected) {
					return nil
				}
				return err
			}
		}
	}
}
