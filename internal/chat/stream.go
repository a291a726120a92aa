package chat

import (
	"context"
	"errors"
	"strings"
)

var errStreamEmpty = errors.New("chat: stream ended without content")

// Stream runs the streaming pipeline: the same validate/rate/consent gates,
// then a live relay of upstream chunks. The cache plays no part. Once the
// upstream stream ends cleanly the full transcript is persisted server-side,
// so a client disconnect mid-stream persists nothing (ctx cancellation tears
// down the upstream request).
func (s *Service) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	outChunks := make(chan string, 16)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outErrs)

		msg, err := s.validate(&req)
		if err != nil {
			outErrs <- err
			return
		}
		if req.Attachment != nil {
			outErrs <- &ValidationError{Reason: "attachments are not supported while streaming"}
			return
		}
		if err := s.gate(ctx, req); err != nil {
			outErrs <- err
			return
		}

		start := s.now()
		chunks, errs := s.upstream.StreamChat(ctx, msg, req.SessionID)

		var b strings.Builder
		for c := range chunks {
			b.WriteString(c)
			select {
			case outChunks <- c:
			case <-ctx.Done():
				outErrs <- ctx.Err()
				return
			}
		}

		select {
		case err := <-errs:
			if err != nil {
				// a torn-down client context is not the upstream's fault;
				// it must not count toward the error stats
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					outErrs <- err
					return
				}
				outErrs <- s.upstreamFailure(ctx, req, err)
				return
			}
		default:
		}

		if ctx.Err() != nil {
			outErrs <- ctx.Err()
			return
		}

		reply := b.String()
		if reply == "" {
			outErrs <- s.upstreamFailure(ctx, req, errStreamEmpty)
			return
		}

		var r Reply
		s.persistAndCount(ctx, req, msg, reply, s.now().Sub(start), &r)
	}()

	return outChunks, outErrs
}
