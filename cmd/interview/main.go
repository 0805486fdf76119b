package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/audio"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/avatar"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/capture"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/config"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/interview"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/metrics"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/playback"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	client := protocol.NewClient(cfg.BackendURL)
	mets := metrics.New()

	var sink audio.PCMSink = audio.NopSink{}
	var speaker *audio.SpeakerSink
	if cfg.PlaybackEnabled {
		s, err := audio.NewSpeakerSink()
		if err != nil {
			log.Printf("speaker unavailable, playback disabled: %v", err)
		} else {
			speaker = s
			sink = s
		}
	}

	recorder := capture.NewRecorder(capture.NewMicSource(), nil)
	player := playback.NewPlayer(client, sink)

	done := make(chan struct{})
	sess := interview.NewSession(client, recorder, player, interview.Callbacks{
		OnPhase: func(p interview.Phase) { fmt.Printf("\n[phase] %s\n", p) },
		OnQuestion: func(q protocol.Question) {
			fmt.Printf("\nQuestion %d: %s\n", q.Index+1, q.Text)
		},
		OnFeedback: func(r protocol.SubmissionResult) {
			fmt.Printf("\nYou said: %s\nScore: %.0f\n%s\n", r.Transcript, r.Score, r.Feedback.Summary)
			for _, p := range r.Feedback.MissedPoints {
				fmt.Printf("  missed: %s\n", p)
			}
			for _, f := range r.Feedback.RedFlags {
				fmt.Printf("  red flag: %s\n", f)
			}
		},
		OnResults: func(r protocol.Results) {
			fmt.Printf("\n=== Interview complete ===\n")
			fmt.Printf("Performance: %.0f (avg %.0f over %d questions, %s)\n",
				r.PerformanceScore, r.AverageScore, r.QuestionsAnswered, r.TimeElapsedFormatted)
			fmt.Printf("Mentor: %s\n", r.MentorFeedback)
			for skill, pct := range r.SkillBreakdown {
				fmt.Printf("  %-16s %.0f%%\n", skill, pct)
			}
			close(done)
		},
		OnError: func(err error) {
			var pe *playback.PlaybackError
			if errors.As(err, &pe) {
				log.Printf("playback issue (continuing): %v", err)
				return
			}
			fmt.Printf("\n[error] %v\n", err)
		},
	}).WithMetrics(mets)

	var ctrl *avatar.Controller
	if cfg.AvatarEnabled {
		ctrl = avatar.NewController(client, sink, cfg.StartSuspended, protocol.RealtimeSessionOptions{
			AvatarID: cfg.AvatarID,
			VoiceID:  cfg.VoiceID,
			Mode:     "interview",
		}, avatar.Callbacks{
			OnReady: func() { fmt.Println("[avatar] ready") },
			OnState: func(s avatar.State) { fmt.Printf("[avatar] %s\n", s) },
			OnAudioBlocked: func() {
				fmt.Println("[avatar] audio blocked - type 'audio' to enable")
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nshutting down")
		cancel()
		sess.Close()
		if ctrl != nil {
			ctrl.Disconnect(context.Background())
		}
		if speaker != nil {
			speaker.Close()
		}
		os.Exit(0)
	}()

	if ctrl != nil {
		if err := ctrl.Connect(ctx); err != nil {
			var limit *protocol.ConcurrencyLimitError
			if errors.As(err, &limit) {
				fmt.Println("Too many avatar sessions running; continuing without the avatar. Try again later.")
			} else {
				log.Printf("avatar unavailable (continuing without): %v", err)
			}
			ctrl = nil
		}
	}

	fmt.Println("Press Enter to start/stop recording, 'audio' to enable avatar audio, 'q' to quit.")
	for sess.SessionID() == "" {
		if err := sess.Begin(ctx, cfg.WeekNumber); err != nil {
			fmt.Printf("Could not reach the interview backend: %v\nPress Enter to retry, 'q' to quit. ", err)
			if !waitForRetry() {
				return
			}
			continue
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-done:
			printSummary(mets)
			shutdown(sess, ctrl, speaker)
			return
		default:
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "q", "quit":
			printSummary(mets)
			shutdown(sess, ctrl, speaker)
			return
		case "audio":
			if ctrl != nil {
				ctrl.EnableAudio()
				fmt.Println("[avatar] audio enabled")
			}
		case "":
			toggleRecording(ctx, sess, ctrl)
			if sess.Finished() {
				<-done
				printSummary(mets)
				shutdown(sess, ctrl, speaker)
				return
			}
		}
	}
}

func toggleRecording(ctx context.Context, sess *interview.Session, ctrl *avatar.Controller) {
	switch sess.Phase() {
	case interview.PhaseIdle:
		if err := sess.StartRecording(ctx); err != nil {
			fmt.Printf("could not start recording: %v\n", err)
			return
		}
		fmt.Println("[recording] press Enter to stop")
	case interview.PhaseListening:
		if err := sess.StopRecording(ctx); err != nil {
			fmt.Printf("turn failed: %v\n", err)
			return
		}
		if ctrl != nil && !sess.Finished() {
			ctrl.Speak(sess.CurrentQuestion().Text)
		}
	default:
		fmt.Printf("busy (%s), wait a moment\n", sess.Phase())
	}
}

func waitForRetry() bool {
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) != "q"
}

func printSummary(m *metrics.Metrics) {
	snap := m.Snapshot()
	fmt.Printf("\nquestions asked=%d answers=%d api calls=%d/%d ok playback failures=%d\n",
		snap.QuestionsAsked, snap.AnswersSubmitted, snap.APICallsOK, snap.APICallsTotal, snap.PlaybackFailures)
}

func shutdown(sess *interview.Session, ctrl *avatar.Controller, speaker *audio.SpeakerSink) {
	sess.Close()
	if ctrl != nil {
		ctrl.Disconnect(context.Background())
	}
	if speaker != nil {
		speaker.Close()
	}
}
