package mapper

import (
	"context"
	"time"

	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// FrameReader is the subset of *websocket.Conn the validator needs; a live
// connection satisfies it directly.
type FrameReader interface {
	ReadMessage() (messageType int, data []byte, err error)
}

// ValidateResult carries frames that arrived during validation but didn't parse as
// a SubResponse. Per §4.2/§9 these are presumed live data racing ahead of
// validation and must be replayed into the downstream parser before normal pumping
// resumes.
type ValidateResult struct {
	Buffered [][]byte
}

// Validate reads frames from reader until expected SubResponses have validated
// successfully (a), a close-frame/read error arrives (b, fatal), or timeout
// elapses (c, fatal). A venue-rejected SubResponse aborts immediately.
func Validate(ctx context.Context, conn connector.Connector, reader FrameReader, expected int, timeout time.Duration) (ValidateResult, error) {
	var result ValidateResult
	if expected == 0 {
		return result, nil
	}

	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	done := make(chan struct{})
	go func() {
		for {
			_, data, err := reader.ReadMessage()
			select {
			case frames <- frame{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(done)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	accepted := 0
	for accepted < expected {
		select {
		case <-ctx.Done():
			return result, domain.NewSubscribeError("validation cancelled: " + ctx.Err().Error())
		case <-timer.C:
			return result, domain.NewSubscribeError("subscribe validation timed out")
		case f := <-frames:
			if f.err != nil {
				return result, domain.NewSubscribeError("close frame received during validation: " + f.err.Error())
			}
			resp, ok, err := conn.ParseSubResponse(f.data)
			if err != nil {
				return result, domain.NewSubscribeError("malformed subscribe response: " + err.Error())
			}
			if !ok {
				result.Buffered = append(result.Buffered, f.data)
				continue
			}
			if verr := resp.Validate(); verr != nil {
				return result, verr
			}
			accepted++
		}
	}
	return result, nil
}
