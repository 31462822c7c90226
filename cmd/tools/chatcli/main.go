package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/model/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	chatservice "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/service/playback"
	"github.com/zhouzirui/voice-chat/backend/internal/service/relay"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	relayURL := flag.String("relay", cfg.Relay.BaseURL, "中继函数根地址，例如 http://localhost:8080/api/relay")
	profileID := flag.String("profile", cfg.Chat.DefaultProfile, "组件 profile ID")
	outDir := flag.String("out", "", "回复音频输出目录，留空则不合成语音")
	voice := flag.String("voice", "", "合成声音，默认使用 profile 配置")
	timeout := flag.Duration("timeout", cfg.Relay.Timeout, "单次中继请求超时时间")
	flag.Parse()

	p, ok := profile.NewMemoryStore(profile.Seed()).FindByID(*profileID)
	if !ok {
		log.Fatalf("未知 profile: %s", *profileID)
	}

	base := strings.TrimRight(*relayURL, "/")
	deps := chatservice.Deps{
		Completion:          relay.NewCompletionClient(base+"/chat", *timeout),
		Voice:               p.Voice,
		SystemPrompt:        p.Prompt(),
		Language:            p.Language,
		EscalationThreshold: cfg.Chat.EscalationThreshold,
	}
	if *voice != "" {
		deps.Voice = *voice
	}

	var store *artifact.Store
	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("创建输出目录失败: %v", err)
		}
		store = artifact.NewStore("file://" + *outDir)
		deps.Synthesis = relay.NewSynthesisClient(base+"/audio", *timeout)
		deps.Artifacts = store
	}

	session := chatservice.NewSession(uuid.NewString(), p.ID, deps)
	defer session.Close()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	go printNotices(events)

	greeting, err := session.InitializeWithGreeting(p.InitialMessage)
	if err == nil {
		fmt.Printf("%s: %s\n", p.Title, greeting.Content)
	}

	fmt.Println("输入消息后回车发送，/quit 退出")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*(*timeout))
		outcome, err := session.SubmitText(ctx, line)
		cancel()
		if err != nil {
			log.Printf("提交失败: %v", err)
			continue
		}
		if outcome.Status == chatservice.StatusRejected || outcome.Assistant == nil {
			continue
		}

		fmt.Printf("%s: %s\n", p.Title, outcome.Assistant.Content)
		if outcome.Assistant.HasAudio() && store != nil {
			if err := saveAudio(store, *outDir, outcome.Assistant); err != nil {
				log.Printf("保存音频失败: %v", err)
			}
		}
	}
}

// saveAudio writes the reply clip to disk and prints its duration the way
// the widget's player would label it.
func saveAudio(store *artifact.Store, dir string, msg *chat.Message) error {
	a, err := store.Get(msg.Audio.ID)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", msg.ID, a.Format))
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return err
	}

	media := playback.NewHeadless(func() (float64, error) {
		d, err := artifact.Probe(a.Format, a.Data)
		if err != nil {
			return 0, err
		}
		return d.Seconds(), nil
	})
	ctrl := playback.NewController(media, nil)
	media.Bind(ctrl)

	select {
	case <-media.Loaded():
	case <-time.After(5 * time.Second):
	}

	fmt.Printf("  [audio] %s (%s)\n", path, ctrl.DurationLabel())
	return nil
}

func printNotices(events <-chan chatservice.Event) {
	for ev := range events {
		if ev.Type != chatservice.EventNotice || ev.Notice == nil {
			continue
		}
		fmt.Printf("  [%s] %s\n", ev.Notice.Level, ev.Notice.Message)
	}
}
