package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply string
	err   error

	calls         int
	lastPrompt    string
	lastTemp      float64
	lastMaxTokens int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.lastTemp = opts.Temperature
	f.lastMaxTokens = opts.MaxTokens

	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			f.lastPrompt = text.Text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.reply}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeEmbedder struct {
	err   error
	wrong bool
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var n = len(texts)
	if f.wrong {
		n--
	}
	var out = make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func TestCompleteReturnsProviderText(t *testing.T) {
	var model = &fakeModel{reply: "bearing wear likely"}
	var c = newClient(model, &fakeEmbedder{}, Config{Temperature: 0.3})

	var out, err = c.Complete(context.Background(), "what is wrong?")
	require.NoError(t, err)
	require.Equal(t, "bearing wear likely", out)
	require.Equal(t, "what is wrong?", model.lastPrompt)
	require.Equal(t, 0.3, model.lastTemp)
	require.Equal(t, 1024, model.lastMaxTokens)
}

func TestCompleteOptionsOverrideDefaults(t *testing.T) {
	var model = &fakeModel{reply: "ok"}
	var c = newClient(model, &fakeEmbedder{}, Config{Temperature: 0.3, MaxTokens: 512})

	var _, err = c.Complete(context.Background(), "q",
		WithTemperature(0.7), WithMaxTokens(64))
	require.NoError(t, err)
	require.Equal(t, 0.7, model.lastTemp)
	require.Equal(t, 64, model.lastMaxTokens)
}

func TestCompleteFailureIsUnavailable(t *testing.T) {
	var model = &fakeModel{err: errors.New("connection refused")}
	var c = newClient(model, &fakeEmbedder{}, Config{})

	var _, err = c.Complete(context.Background(), "q")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var model = &fakeModel{err: errors.New("boom")}
	var c = newClient(model, &fakeEmbedder{}, Config{BreakerFailures: 2})

	for i := 0; i < 2; i++ {
		var _, err = c.Complete(context.Background(), "q")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, 2, model.calls)

	// Breaker is now open: the provider is not called again.
	var _, err = c.Complete(context.Background(), "q")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "circuit open")
	require.Equal(t, 2, model.calls)
}

func TestBreakerIsSharedAcrossOperations(t *testing.T) {
	var model = &fakeModel{err: errors.New("boom")}
	var emb = &fakeEmbedder{}
	var c = newClient(model, emb, Config{BreakerFailures: 2})

	c.Complete(context.Background(), "q")
	c.Complete(context.Background(), "q")

	// Completion failures opened the breaker for embeddings too.
	var _, err = c.Embed(context.Background(), []string{"text"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Zero(t, emb.calls)
}

func TestEmbedReturnsOneVectorPerText(t *testing.T) {
	var c = newClient(&fakeModel{reply: "ok"}, &fakeEmbedder{}, Config{})

	var vectors, err = c.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
}

func TestEmbedEmptyInputSkipsProvider(t *testing.T) {
	var emb = &fakeEmbedder{}
	var c = newClient(&fakeModel{}, emb, Config{})

	var vectors, err = c.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
	require.Zero(t, emb.calls)
}

func TestEmbedCountMismatchIsUnavailable(t *testing.T) {
	var c = newClient(&fakeModel{}, &fakeEmbedder{wrong: true}, Config{})

	var _, err = c.Embed(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrUnavailable)
}
