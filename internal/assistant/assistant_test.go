package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/loopie/internal/automation"
	"github.com/wwwzy/loopie/internal/backend"
	"github.com/wwwzy/loopie/internal/transcribe"
	"github.com/wwwzy/loopie/internal/ui"
)

type fakeAsker struct {
	calls   []string
	keys    []string
	reply   string
	err     error
	typing  bool
	session *ui.Session
}

func (f *fakeAsker) Ask(ctx context.Context, message, key string) (string, error) {
	f.calls = append(f.calls, message)
	f.keys = append(f.keys, key)
	if f.session != nil {
		f.typing = f.session.Transcript.Typing()
	}
	return f.reply, f.err
}

type fakeAnalyser struct {
	image, prompt string
	reply         string
	err           error
}

func (f *fakeAnalyser) AnalyseImage(ctx context.Context, image, prompt, key string) (string, error) {
	f.image, f.prompt = image, prompt
	return f.reply, f.err
}

type fakeAutomator struct {
	goals    []string
	err      error
	canceled bool
}

func (f *fakeAutomator) Run(ctx context.Context, goal, credential string) (automation.Result, error) {
	f.goals = append(f.goals, goal)
	if f.err != nil {
		return automation.Result{}, f.err
	}
	return automation.Result{Goal: goal, Reason: automation.ReasonDone, Steps: 1}, nil
}

func (f *fakeAutomator) Cancel() bool {
	f.canceled = true
	return true
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (transcribe.Transcript, error) {
	return transcribe.Transcript{Text: f.text}, f.err
}

type fakeCapturer struct{ img string }

func (f fakeCapturer) Capture(ctx context.Context) (string, error) { return f.img, nil }

func lastContent(s *ui.Session) string {
	msgs := s.Transcript.Messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

func TestAutomationGoal(t *testing.T) {
	cases := []struct {
		in   string
		goal string
		ok   bool
	}{
		{"/do open settings", "open settings", true},
		{"/AUTO  send mail ", "send mail", true},
		{"/do", "", true},
		{"/domain question", "", false},
		{"do it", "", false},
	}
	for _, tc := range cases {
		goal, ok := AutomationGoal(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.goal, goal, tc.in)
	}
}

func TestHandleAsk(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{reply: "Paris.", session: s}
	a, err := New(s, Deps{Asker: asker}, Credentials{GeminiKey: "gk"})
	require.NoError(t, err)

	require.NoError(t, a.Handle(context.Background(), "capital of France?"))
	assert.Equal(t, []string{"capital of France?"}, asker.calls)
	assert.Equal(t, []string{"gk"}, asker.keys)
	assert.True(t, asker.typing)
	assert.False(t, s.Transcript.Typing())
	assert.Equal(t, "Paris.", lastContent(s))
}

func TestHandleAskErrorShowsSorry(t *testing.T) {
	s := ui.NewSession()
	a, err := New(s, Deps{Asker: &fakeAsker{err: errors.New("boom")}}, Credentials{})
	require.NoError(t, err)

	require.NoError(t, a.Handle(context.Background(), "hi"))
	assert.Equal(t, ui.MsgSorry, lastContent(s))
	assert.False(t, s.Transcript.Typing())
}

func TestHandleWithPendingScreenshot(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{}
	an := &fakeAnalyser{reply: "A login form."}
	a, err := New(s, Deps{Asker: asker, Analyser: an, Capturer: fakeCapturer{img: "QUJD"}}, Credentials{})
	require.NoError(t, err)

	require.NoError(t, a.Screenshot(context.Background()))
	assert.True(t, s.State.Snapshot().HasPendingScreenshot())

	require.NoError(t, a.Handle(context.Background(), "what is this?"))
	assert.Empty(t, asker.calls)
	assert.Equal(t, "QUJD", an.image)
	assert.Equal(t, "what is this?", an.prompt)
	assert.Equal(t, "A login form.", lastContent(s))
	assert.False(t, s.State.Snapshot().HasPendingScreenshot())

	msgs := s.Transcript.Messages()
	assert.Equal(t, true, msgs[0].Extra[ui.ExtraHasImage])
}

func TestHandleScreenshotOnly(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{}
	an := &fakeAnalyser{reply: "A terminal window."}
	a, err := New(s, Deps{Asker: asker, Analyser: an, Capturer: fakeCapturer{img: "QUJD"}}, Credentials{})
	require.NoError(t, err)

	// 没有截图时空消息直接忽略
	require.NoError(t, a.Handle(context.Background(), "   "))
	assert.Zero(t, s.Transcript.Len())

	require.NoError(t, a.Screenshot(context.Background()))
	require.NoError(t, a.Handle(context.Background(), "   "))
	assert.Empty(t, asker.calls)
	assert.Equal(t, "QUJD", an.image)
	assert.Equal(t, "", an.prompt)
	assert.Equal(t, "A terminal window.", lastContent(s))

	msgs := s.Transcript.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, true, msgs[0].Extra[ui.ExtraHasImage])
}

func TestHandleScreenshotSendsRawBase64(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, backend.PathAnalyseImage, r.URL.Path)
		assert.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"description":"a settings page"}`))
	}))
	defer srv.Close()

	client, err := backend.NewClient(backend.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	s := ui.NewSession()
	a, err := New(s, Deps{Asker: client, Analyser: client, Capturer: fakeCapturer{img: "iVBORw0KGgo="}}, Credentials{GeminiKey: "gk"})
	require.NoError(t, err)

	require.NoError(t, a.Screenshot(context.Background()))
	require.NoError(t, a.Handle(context.Background(), ""))

	assert.Equal(t, "iVBORw0KGgo=", body["image"])
	assert.Equal(t, backend.DefaultImagePrompt, body["prompt"])
	assert.Equal(t, "gk", body["geminiApiKey"])
	assert.Equal(t, "a settings page", lastContent(s))
}

func TestHandleAutomation(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{}
	auto := &fakeAutomator{}
	a, err := New(s, Deps{Asker: asker, Automator: auto}, Credentials{})
	require.NoError(t, err)

	require.NoError(t, a.Handle(context.Background(), "/do open the calendar"))
	assert.Equal(t, []string{"open the calendar"}, auto.goals)
	assert.Empty(t, asker.calls)

	require.NoError(t, a.Handle(context.Background(), "/do"))
	assert.Equal(t, MsgAutomationUsage, lastContent(s))

	auto.err = automation.ErrAlreadyRunning
	require.NoError(t, a.Handle(context.Background(), "/do again"))
	assert.Equal(t, MsgAutomationBusy, lastContent(s))

	assert.True(t, a.StopAutomation())
	assert.True(t, auto.canceled)
}

func TestHandleAutomationNotConfigured(t *testing.T) {
	s := ui.NewSession()
	a, err := New(s, Deps{Asker: &fakeAsker{}}, Credentials{})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Handle(context.Background(), "/do x"), ErrNotConfigured)
	assert.False(t, a.StopAutomation())
}

func TestVoice(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{reply: "ok"}
	tr := &fakeTranscriber{text: "  hello  "}
	a, err := New(s, Deps{Asker: asker, Transcriber: tr}, Credentials{})
	require.NoError(t, err)

	require.NoError(t, a.Voice(context.Background(), strings.NewReader("wav"), "audio.wav"))
	assert.Equal(t, []string{"hello"}, asker.calls)
	for _, m := range s.Transcript.Messages() {
		assert.False(t, ui.IsLoader(m))
	}

	tr.err = fmt.Errorf("status 500")
	require.NoError(t, a.Voice(context.Background(), strings.NewReader("wav"), ""))
	assert.Equal(t, "Transcription failed: status 500", lastContent(s))

	tr.err = transcribe.ErrMissingAPIKey
	require.NoError(t, a.Voice(context.Background(), strings.NewReader("wav"), ""))
	assert.Equal(t, transcribe.ErrMissingAPIKey.Error(), lastContent(s))
}

type fakeChatModel struct {
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage(" model reply ", nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestModelAskerUsesHistory(t *testing.T) {
	s := ui.NewSession()
	s.Transcript.AddUser("first question", false)
	s.Transcript.AddAssistant("first answer")
	s.Transcript.Append("Step 1: click")
	s.Transcript.AddUser("second question", false)

	cm := &fakeChatModel{}
	asker, err := NewModelAsker(context.Background(), cm, s.Transcript)
	require.NoError(t, err)
	reply, err := asker.Ask(context.Background(), "second question", "")
	require.NoError(t, err)
	assert.Equal(t, "model reply", reply)

	require.Len(t, cm.input, 4)
	assert.Equal(t, schema.System, cm.input[0].Role)
	assert.Equal(t, "first question", cm.input[1].Content)
	assert.Equal(t, "first answer", cm.input[2].Content)
	assert.Equal(t, schema.User, cm.input[3].Role)
	assert.Equal(t, "second question", cm.input[3].Content)
}

func TestNewArkChatModelRequiresConfig(t *testing.T) {
	_, err := NewArkChatModel(context.Background(), ArkConfig{})
	assert.Error(t, err)
}

func TestVoiceEmptyTranscription(t *testing.T) {
	s := ui.NewSession()
	asker := &fakeAsker{}
	an := &fakeAnalyser{reply: "A chart."}
	tr := &fakeTranscriber{text: " "}
	a, err := New(s, Deps{Asker: asker, Analyser: an, Transcriber: tr, Capturer: fakeCapturer{img: "QUJD"}}, Credentials{})
	require.NoError(t, err)

	require.NoError(t, a.Voice(context.Background(), strings.NewReader("wav"), "audio.wav"))
	assert.Empty(t, asker.calls)
	assert.Equal(t, MsgNoSpeech, lastContent(s))
	for _, m := range s.Transcript.Messages() {
		assert.False(t, ui.IsLoader(m))
	}

	// 有待发送截图时，空转写仍然发出截图
	require.NoError(t, a.Screenshot(context.Background()))
	require.NoError(t, a.Voice(context.Background(), strings.NewReader("wav"), "audio.wav"))
	assert.Equal(t, "QUJD", an.image)
	assert.Equal(t, "A chart.", lastContent(s))
	assert.False(t, s.State.Snapshot().HasPendingScreenshot())
}
