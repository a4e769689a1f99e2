package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/pkg/provider/llm"
	llmmock "github.com/MrWong99/realtalk/pkg/provider/llm/mock"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	sttmock "github.com/MrWong99/realtalk/pkg/provider/stt/mock"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/realtalk/pkg/provider/tts/mock"
)

func TestRegistry_CreatesRegisteredProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("google", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	entry := config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "gpt-4o-mini" {
		t.Errorf("factory saw model %q", gotEntry.Model)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "google"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("no api key")
	reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, n := range []string{"openai", "deepgram", "whisper"} {
		reg.RegisterSTT(n, func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	}
	want := []string{"deepgram", "openai", "whisper"}
	if got := reg.Names("stt"); !slices.Equal(got, want) {
		t.Errorf("Names(stt) = %v, want %v", got, want)
	}
	if got := reg.Names("llm"); len(got) != 0 {
		t.Errorf("Names(llm) = %v, want none", got)
	}
}
