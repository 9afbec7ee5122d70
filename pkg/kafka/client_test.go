package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/pkg/tasks"
)

type fakeProcessor struct {
	err       error
	processed []string
	abandoned []string
}

func (f *fakeProcessor) Process(_ context.Context, task tasks.DocumentIngestTask) error {
	f.processed = append(f.processed, task.DocumentID)
	return f.err
}

func (f *fakeProcessor) Abandon(_ context.Context, task tasks.DocumentIngestTask, _ error) {
	f.abandoned = append(f.abandoned, task.DocumentID)
}

type fakeAttempts struct {
	counts map[string]int64
	err    error
}

func (f *fakeAttempts) Incr(_ context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeAttempts) Reset(_ context.Context, key string) error {
	delete(f.counts, key)
	return nil
}

type fakeReader struct {
	msgs      []kafka.Message
	fetchErrs int
	committed []kafka.Message
	closed    bool
	done      context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.fetchErrs > 0 {
		f.fetchErrs--
		return kafka.Message{}, errors.New("broker not available")
	}
	if len(f.msgs) == 0 {
		f.done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func taskMessage(t *testing.T, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.DocumentIngestTask{DocumentID: id, CorpusID: "c1", FileName: "a.txt"})
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

var fastRetry = config.KafkaConfig{Topic: "t", MaxAttempts: 3, RetryBackoffMs: 1}

func TestHandleMessage_Success(t *testing.T) {
	proc := &fakeProcessor{}
	attempts := &fakeAttempts{counts: map[string]int64{"d1": 2}}
	c := newConsumer(&fakeReader{}, fastRetry, proc, attempts)

	assert.True(t, c.handleMessage(context.Background(), taskMessage(t, "d1")))
	assert.Equal(t, []string{"d1"}, proc.processed)
	assert.NotContains(t, attempts.counts, "d1")
}

func TestHandleMessage_RetriesThenAbandons(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("minio down")}
	attempts := &fakeAttempts{counts: map[string]int64{}}
	c := newConsumer(&fakeReader{}, fastRetry, proc, attempts)

	assert.True(t, c.handleMessage(context.Background(), taskMessage(t, "d1")))
	assert.Equal(t, []string{"d1", "d1", "d1"}, proc.processed)
	assert.Equal(t, []string{"d1"}, proc.abandoned)
	assert.NotContains(t, attempts.counts, "d1")
}

func TestHandleMessage_ResumesCountAfterRestart(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("minio down")}
	attempts := &fakeAttempts{counts: map[string]int64{"d1": 2}}
	c := newConsumer(&fakeReader{}, fastRetry, proc, attempts)

	assert.True(t, c.handleMessage(context.Background(), taskMessage(t, "d1")))
	assert.Len(t, proc.processed, 1)
	assert.Equal(t, []string{"d1"}, proc.abandoned)
}

func TestHandleMessage_CounterUnavailable(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("boom")}
	c := newConsumer(&fakeReader{}, fastRetry, proc, &fakeAttempts{err: errors.New("redis down")})

	assert.True(t, c.handleMessage(context.Background(), taskMessage(t, "d1")))
	assert.Len(t, proc.processed, 3)
	assert.Equal(t, []string{"d1"}, proc.abandoned)
}

func TestHandleMessage_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcessor{err: errors.New("boom")}
	cfg := fastRetry
	cfg.RetryBackoffMs = 60000
	c := newConsumer(&fakeReader{}, cfg, proc, &fakeAttempts{counts: map[string]int64{}})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.False(t, c.handleMessage(ctx, taskMessage(t, "d1")))
	assert.Len(t, proc.processed, 1)
	assert.Empty(t, proc.abandoned)
}

func TestHandleMessage_Malformed(t *testing.T) {
	proc := &fakeProcessor{}
	c := newConsumer(&fakeReader{}, fastRetry, proc, &fakeAttempts{counts: map[string]int64{}})
	assert.True(t, c.handleMessage(context.Background(), kafka.Message{Value: []byte("{oops")}))
	assert.True(t, c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{"corpus_id":"c"}`)}))
	assert.Empty(t, proc.processed)
}

func TestConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{taskMessage(t, "d1"), taskMessage(t, "d2")}, done: cancel}
	proc := &fakeProcessor{}
	c := newConsumer(reader, fastRetry, proc, &fakeAttempts{counts: map[string]int64{}})

	c.Run(ctx)
	assert.Equal(t, []string{"d1", "d2"}, proc.processed)
	assert.Len(t, reader.committed, 2)
	assert.True(t, reader.closed)
}

func TestConsumer_RunAbandonsFailingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{taskMessage(t, "d1"), taskMessage(t, "d2")}, done: cancel}
	proc := &fakeProcessor{err: errors.New("extract failed")}
	c := newConsumer(reader, fastRetry, proc, &fakeAttempts{counts: map[string]int64{}})

	c.Run(ctx)
	assert.Equal(t, []string{"d1", "d1", "d1", "d2", "d2", "d2"}, proc.processed)
	assert.Equal(t, []string{"d1", "d2"}, proc.abandoned)
	assert.Len(t, reader.committed, 2)
}

func TestConsumer_RunSurvivesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{fetchErrs: 3, msgs: []kafka.Message{taskMessage(t, "d1")}, done: cancel}
	proc := &fakeProcessor{}
	c := newConsumer(reader, fastRetry, proc, &fakeAttempts{counts: map[string]int64{}})

	c.Run(ctx)
	assert.Equal(t, []string{"d1"}, proc.processed)
	assert.Len(t, reader.committed, 1)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
}
