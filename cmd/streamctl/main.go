// streamctl streams stdin into a chat as one message. Each input line is appended to the live
// buffer; EOF finalizes the message and Ctrl-C cancels it.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yungbote/branchchat-backend/internal/client"
	"github.com/yungbote/branchchat-backend/internal/platform/envutil"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

func main() {
	var (
		apiURL    string
		token     string
		chatID    string
		newChat   string
		parentID  string
		speakerID string
		asUser    bool
		fps       int
		message   string
		follow    bool
		logMode   string
	)
	flag.StringVar(&apiURL, "api", envutil.String("BRANCHCHAT_API", "http://localhost:8080", nil), "API base url")
	flag.StringVar(&token, "token", envutil.String("BRANCHCHAT_TOKEN", "", nil), "bearer token")
	flag.StringVar(&chatID, "chat", "", "chat id to stream into")
	flag.StringVar(&newChat, "new", "", "create a chat with this name instead of -chat")
	flag.StringVar(&parentID, "parent", "", "parent node id (default: current tail)")
	flag.StringVar(&speakerID, "speaker", "", "speaker id")
	flag.BoolVar(&asUser, "user", false, "stream as the user speaker instead of a bot")
	flag.IntVar(&fps, "fps", envutil.Int("STREAM_FPS", stream.DefaultFPS, nil), "buffer flush rate")
	flag.StringVar(&message, "m", "", "send this text instead of reading stdin")
	flag.BoolVar(&follow, "follow", false, "keep the mirror in sync with server events")
	flag.StringVar(&logMode, "log", envutil.String("LOG_MODE", "production", nil), "log mode")
	flag.Parse()

	log, err := logger.New(logMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(apiURL, token, nil, log)
	if err := run(ctx, log, api, options{
		chatID:    chatID,
		newChat:   newChat,
		parentID:  parentID,
		speakerID: speakerID,
		asUser:    asUser,
		fps:       fps,
		message:   message,
		follow:    follow,
	}, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	chatID    string
	newChat   string
	parentID  string
	speakerID string
	asUser    bool
	fps       int
	message   string
	follow    bool
}

func run(ctx context.Context, log *logger.Logger, api *client.API, opts options, in io.Reader, out io.Writer) error {
	if opts.newChat != "" {
		created, err := api.CreateChat(ctx, opts.newChat, nil)
		if err != nil {
			return err
		}
		opts.chatID = created.ID
		fmt.Fprintf(out, "created chat %s\n", created.ID)
	}
	if opts.chatID == "" {
		return errors.New("-chat or -new is required")
	}

	mirror := client.NewMirror()
	speakers, err := api.Speakers(ctx)
	if err != nil {
		return err
	}
	if err := reload(ctx, log, api, opts.chatID, mirror); err != nil {
		return err
	}

	remote := api.Chat(opts.chatID)
	buf := stream.NewBuffer(stream.NewTickerScheduler(opts.fps))
	machine := stream.NewMachine(stream.Config{
		Remote:   remote,
		Mirror:   mirror,
		Speakers: remote,
		Buffer:   buf,
		Log:      log,
	})
	live := newLivePrinter(out)
	unsubscribe := buf.Subscribe(live.Update)
	defer unsubscribe()

	if opts.follow {
		go followEvents(ctx, log, api, remote, opts.chatID, mirror, machine)
	}

	start := stream.StartOptions{ParentID: opts.parentID, SpeakerID: opts.speakerID}
	if opts.speakerID == "" {
		isUser := opts.asUser
		start.IsUser = &isUser
	}
	if _, err := machine.Start(ctx, start); err != nil {
		return err
	}

	if err := feed(ctx, machine, opts.message, in); err != nil {
		_ = machine.Cancel()
		machine.Wait()
		return err
	}

	res, err := machine.Finalize(ctx)
	machine.Wait()
	live.Done()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "committed %s\n", res.NodeID)
	fmt.Fprint(out, renderTranscript(mirror.Messages(), speakers))
	return nil
}

// feed streams message, or stdin line by line, into the machine until EOF or ctx ends.
func feed(ctx context.Context, machine *stream.Machine, message string, in io.Reader) error {
	if message != "" {
		machine.SetContent(message)
		return nil
	}
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				errCh <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return stream.ErrCancelled
		case line := <-lines:
			machine.Append(line)
		case err := <-errCh:
			return err
		}
	}
}

func reload(ctx context.Context, log *logger.Logger, api *client.API, chatID string, mirror *client.Mirror) error {
	view, err := api.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	orphans, err := mirror.Load(view.Nodes)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		log.Warn("chat snapshot has orphaned nodes", "chat_id", chatID, "orphans", strings.Join(orphans, ","))
	}
	return nil
}

// followEvents reloads the mirror after server-side changes while no session is in flight.
func followEvents(ctx context.Context, log *logger.Logger, api *client.API, remote *client.ChatClient, chatID string, mirror *client.Mirror, machine *stream.Machine) {
	err := remote.Events(ctx, func(msg realtime.SSEMessage) {
		switch msg.Event {
		case realtime.SSEEventChatUpdated:
			if machine.State() != stream.StateIdle {
				return
			}
			if err := reload(ctx, log, api, chatID, mirror); err != nil {
				log.Warn("mirror reload failed", "chat_id", chatID, "error", err)
			}
		case realtime.SSEEventChatDeleted:
			log.Warn("chat deleted on server", "chat_id", chatID)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("event stream ended", "chat_id", chatID, "error", err)
	}
}
