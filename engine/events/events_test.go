package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/enrich"
)

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func newPublisher(c *fakeConn) *Publisher {
	p := NewPublisher(c, nil)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestArticleScored(t *testing.T) {
	c := &fakeConn{}
	newPublisher(c).ArticleScored(context.Background(), enrich.EvaluationReport{ID: 9, Score: 0.7, Direction: domain.DirectionNegative, Updated: true})

	if len(c.msgs) != 1 || c.msgs[0].Subject != SubjectArticleScored {
		t.Fatalf("unexpected messages: %+v", c.msgs)
	}
	var ev Event[enrich.EvaluationReport]
	if err := json.Unmarshal(c.msgs[0].Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != SubjectArticleScored || ev.Data.ID != 9 || ev.Data.Direction != domain.DirectionNegative {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.At.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", ev.At)
	}
}

func TestSubjects(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c)
	p.ArticleTranslated(context.Background(), enrich.TranslationReport{ID: 1, Language: "de"})
	p.BatchCompleted(context.Background(), batch.Completed{Op: "evaluate", Total: 3, Successful: 2, Failed: 1})

	if len(c.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.msgs))
	}
	if c.msgs[0].Subject != SubjectArticleTranslated || c.msgs[1].Subject != SubjectBatchCompleted {
		t.Fatalf("unexpected subjects %s, %s", c.msgs[0].Subject, c.msgs[1].Subject)
	}
	var ev Event[batch.Completed]
	if err := json.Unmarshal(c.msgs[1].Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Data.Total != ev.Data.Successful+ev.Data.Failed {
		t.Errorf("unexpected counts %+v", ev.Data)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	c := &fakeConn{err: errors.New("connection closed")}
	newPublisher(c).BatchCompleted(context.Background(), batch.Completed{Op: "translate"})
	if len(c.msgs) != 1 {
		t.Fatal("expected publish attempt")
	}
}
