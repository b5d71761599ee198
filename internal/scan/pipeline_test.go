package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scip2/internal/scip2"
)

var (
	msRequest = scip2.ScanRequest{Command: "MS", Start: 44, End: 725, Group: 1}
	gsRequest = scip2.ScanRequest{Command: "GS", Start: 44, End: 725, Group: 1}
)

func TestPipeline_BeginWithoutFrameIsBusy(t *testing.T) {
	p := NewPipeline()
	_, err := p.Begin()
	assert.ErrorIs(t, err, ErrBusy)
}

func TestPipeline_EndWithoutBegin(t *testing.T) {
	conn := newLineConn(singleShotReply(gsRequest, 1, steps(682), 2)...)
	p := NewPipeline()
	defer p.Close()

	p.End()

	require.NoError(t, p.StartSingle(context.Background(), scip2.NewCodec(conn, scip2.Options{}), gsRequest, scip2.Encoding2))
	require.NoError(t, p.Wait())

	_, err := p.Begin()
	require.NoError(t, err)
	p.End()
	p.End()

	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrBusy, "no new frame, but the reader lock is free")
	require.NoError(t, p.Reset())
}

func TestPipeline_SingleShot(t *testing.T) {
	values := steps(682)
	conn := newLineConn(singleShotReply(gsRequest, 4242, values, 2)...)
	p := NewPipeline()
	defer p.Close()

	require.NoError(t, p.StartSingle(context.Background(), scip2.NewCodec(conn, scip2.Options{}), gsRequest, scip2.Encoding2))
	require.NoError(t, p.Wait())
	assert.Equal(t, []string{"GS0044072501"}, conn.written)

	s, err := p.Begin()
	require.NoError(t, err)
	assert.Equal(t, 682, s.Size())
	assert.Equal(t, uint32(4242), s.Timestamp)
	assert.Equal(t, ErrorNone, s.Error)
	assert.GreaterOrEqual(t, s.Capacity(), 682)
	if diff := cmp.Diff(values, s.Samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}

	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrBusy, "second Begin without End")

	p.End()
	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrBusy, "no new frame since last Begin")
	assert.Equal(t, uint64(1), p.Stats().Frames)
}

func TestPipeline_SingleShotDoubledEncoding(t *testing.T) {
	req := scip2.ScanRequest{Command: "GE", Start: 0, End: 1080, Group: 1}
	values := steps(2 * 1081)
	conn := newLineConn(singleShotReply(req, 7, values, 3)...)
	p := NewPipeline()
	defer p.Close()

	require.NoError(t, p.StartSingle(context.Background(), scip2.NewCodec(conn, scip2.Options{}), req, scip2.Encoding3x2))
	require.NoError(t, p.Wait())

	s, err := p.Begin()
	require.NoError(t, err)
	defer p.End()
	assert.Equal(t, 2*1081, s.Size())
}

func TestPipeline_SingleShotStatusFailure(t *testing.T) {
	conn := newLineConn("GS0044072501", scip2.WithChecksum("10"), "")
	p := NewPipeline()
	defer p.Close()

	require.NoError(t, p.StartSingle(context.Background(), scip2.NewCodec(conn, scip2.Options{}), gsRequest, scip2.Encoding2))
	err := p.Wait()
	var statusErr *scip2.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 10, statusErr.Status)
	assert.Equal(t, ErrorFatal, p.Failure())

	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrFatal)
}

func TestPipeline_SingleShotKeepsHeldFrame(t *testing.T) {
	p := NewPipeline()
	defer p.Close()
	shot := func(stamp uint32) {
		t.Helper()
		conn := newLineConn(singleShotReply(gsRequest, stamp, steps(682), 2)...)
		require.NoError(t, p.StartSingle(context.Background(), scip2.NewCodec(conn, scip2.Options{}), gsRequest, scip2.Encoding2))
		require.NoError(t, p.Wait())
	}

	shot(1)
	held, err := p.Begin()
	require.NoError(t, err)

	shot(2)
	shot(3)
	assert.Equal(t, uint32(1), held.Timestamp, "frame held by the consumer is never overwritten")
	p.End()

	latest, err := p.Begin()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), latest.Timestamp)
	p.End()
}

func TestPipeline_ContinuousEchoMatchesRequestAsSent(t *testing.T) {
	req := msRequest
	req.Group = 0
	req.Count = 1
	lines := streamFrame(req, 0, 7, steps(682), 2)
	require.Equal(t, "MS004407250000", lines[0][:14])

	p := NewPipeline()
	defer p.Close()
	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(newLineConn(lines...), scip2.Options{}), req, scip2.Encoding2))
	require.NoError(t, p.Wait())
	assert.False(t, p.IsError())
	assert.Equal(t, uint64(1), p.Stats().Frames)
}

func TestPipeline_ContinuousCount(t *testing.T) {
	req := msRequest
	req.Count = 3
	values := steps(682)
	var lines []string
	for i, remaining := range []int{2, 1, 0} {
		lines = append(lines, streamFrame(req, remaining, uint32(100+i), values, 2)...)
	}
	lines = append(lines, streamFrame(req, 0, 999, values, 2)...) // never read

	p := NewPipeline()
	defer p.Close()
	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(newLineConn(lines...), scip2.Options{}), req, scip2.Encoding2))
	require.NoError(t, p.Wait())
	assert.False(t, p.Running())

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint32(102), stats.LastTimestamp)

	s, err := p.Begin()
	require.NoError(t, err)
	defer p.End()
	assert.Equal(t, (725-44)/1+1, s.Size())
	assert.Equal(t, uint32(102), s.Timestamp)
	assert.Equal(t, 3, s.Count)
}

func TestPipeline_CallbackStops(t *testing.T) {
	values := steps(682)
	var lines []string
	for i := 0; i < 3; i++ {
		lines = append(lines, streamFrame(msRequest, 0, uint32(i), values, 2)...)
	}

	p := NewPipeline()
	defer p.Close()
	calls := 0
	p.SetCallback(func(s *Scan) bool {
		calls++
		return s.Timestamp < 1
	})

	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(newLineConn(lines...), scip2.Options{}), msRequest, scip2.Encoding2))
	require.NoError(t, p.Wait())
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(1), p.Stats().Frames, "the rejected frame is not published")
}

func TestPipeline_FatalIsSticky(t *testing.T) {
	values := steps(682)
	lines := streamFrame(msRequest, 0, 1, values, 2)
	bad := streamFrame(msRequest, 0, 2, values, 2)
	bad[1] = scip2.WithChecksum("00")
	lines = append(lines, bad...)

	p := NewPipeline()
	defer p.Close()
	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(newLineConn(lines...), scip2.Options{}), msRequest, scip2.Encoding2))
	err := p.Wait()
	require.Error(t, err)
	assert.Equal(t, ErrorRecoverable, p.Failure())
	assert.True(t, p.IsError())
	assert.Equal(t, err, p.Err())

	for i := 0; i < 3; i++ {
		_, err := p.Begin()
		assert.ErrorIs(t, err, ErrFatal, "even though a good frame is pending")
	}

	require.NoError(t, p.Reset())
	assert.False(t, p.IsError())
	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrBusy)
}

func TestPipeline_ContinuousFailureClasses(t *testing.T) {
	values := steps(10)
	req := scip2.ScanRequest{Command: "MS", Start: 0, End: 9, Group: 1}

	tests := []struct {
		name   string
		mutate func(lines []string) []string
		want   ErrorState
	}{
		{"short echo", func(l []string) []string { l[0] = "MS00"; return l }, ErrorFatal},
		{"wrong echo", func(l []string) []string { l[0] = "MD0000000901000"; return l }, ErrorFatal},
		{"blank status", func(l []string) []string { l[1] = ""; return l }, ErrorRecoverable},
		{"status checksum", func(l []string) []string { l[1] = "99c"; return l }, ErrorFatal},
		{"status not 99", func(l []string) []string { l[1] = scip2.WithChecksum("01"); return l }, ErrorRecoverable},
		{"bad timestamp", func(l []string) []string { l[2] = scip2.WithChecksum("00"); return l }, ErrorRecoverable},
		{"torn data", func(l []string) []string { return append(l[:3], scip2.WithChecksum("0"), "") }, ErrorRecoverable},
		{"fatal device state", func(l []string) []string { l[1] = "1I?"; return l }, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := tt.mutate(streamFrame(req, 0, 1, values, 2))
			p := NewPipeline()
			defer p.Close()

			require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(newLineConn(lines...), scip2.Options{}), req, scip2.Encoding2))
			assert.Error(t, p.Wait())
			assert.Equal(t, tt.want, p.Failure())
			assert.Equal(t, uint64(1), p.Stats().Failures)
		})
	}
}

func TestPipeline_StopAndClose(t *testing.T) {
	conn := &streamConn{req: msRequest, values: steps(682), width: 2}
	p := NewPipeline()

	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(conn, scip2.Options{}), msRequest, scip2.Encoding2))
	require.Eventually(t, func() bool { return p.Stats().Frames >= 3 }, 5*time.Second, time.Millisecond)

	err := p.StartContinuous(context.Background(), scip2.NewCodec(conn, scip2.Options{}), msRequest, scip2.Encoding2)
	assert.ErrorIs(t, err, ErrRunning)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop(), "stop is idempotent")
	assert.False(t, p.Running())
	assert.False(t, p.IsError())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	for _, s := range p.slots {
		assert.Zero(t, s.Capacity())
	}

	_, err = p.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	err = p.StartContinuous(context.Background(), scip2.NewCodec(conn, scip2.Options{}), msRequest, scip2.Encoding2)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeline_ParentContextCancels(t *testing.T) {
	conn := &streamConn{req: msRequest, values: steps(100), width: 2}
	p := NewPipeline()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.StartContinuous(ctx, scip2.NewCodec(conn, scip2.Options{}), msRequest, scip2.Encoding2))
	require.Eventually(t, func() bool { return p.Stats().Frames >= 1 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, p.Wait())
	assert.False(t, p.Running())
}

func TestPipeline_ConsumerHoldsFrameWhileStreaming(t *testing.T) {
	conn := &streamConn{req: msRequest, values: steps(682), width: 2}
	p := NewPipeline()
	defer p.Close()

	require.NoError(t, p.StartContinuous(context.Background(), scip2.NewCodec(conn, scip2.Options{}), msRequest, scip2.Encoding2))

	var held *Scan
	require.Eventually(t, func() bool {
		s, err := p.Begin()
		if err != nil {
			return false
		}
		held = s
		return true
	}, 5*time.Second, time.Millisecond)

	stamp := held.Timestamp
	frames := p.Stats().Frames
	require.Eventually(t, func() bool { return p.Stats().Frames >= frames+5 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, stamp, held.Timestamp)
	assert.Equal(t, 682, held.Size())
	p.End()

	require.Eventually(t, func() bool {
		s, err := p.Begin()
		if err != nil {
			return false
		}
		defer p.End()
		return s.Timestamp > stamp
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
}

func TestTrail(t *testing.T) {
	tr := newTrail(3)
	tr.add("a")
	tr.add("b")
	assert.Equal(t, "a\nb", tr.String())
	tr.add("c")
	tr.add("d")
	assert.Equal(t, "b\nc\nd", tr.String())
}

func TestRequiredCapacity(t *testing.T) {
	assert.Equal(t, 682+1024, requiredCapacity(msRequest, scip2.Encoding2))
	assert.Equal(t, 2*682+1024, requiredCapacity(msRequest, scip2.Encoding3x2))
	assert.Equal(t, 341+1024, requiredCapacity(scip2.ScanRequest{Start: 44, End: 725, Group: 2}, scip2.Encoding3))
	assert.Equal(t, 682+1024, requiredCapacity(scip2.ScanRequest{Start: 44, End: 725}, scip2.Encoding2))
}
