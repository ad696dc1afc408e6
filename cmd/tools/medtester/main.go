package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/medlens/backend/internal/config"
	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/task"
	"github.com/zhouzirui/medlens/backend/internal/service/ai"
	"github.com/zhouzirui/medlens/backend/internal/service/archive"
	"github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/condense"
	"github.com/zhouzirui/medlens/backend/internal/service/extraction"
	"github.com/zhouzirui/medlens/backend/internal/service/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

type options struct {
	timeout time.Duration
	cfg     *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "medtester",
		Short:         "手动验证视觉提取、问答与语音链路",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "无法加载 .env，改用系统环境变量")
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			logger.Setup(cfg.Log.Level, true)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "请求超时时间")

	root.AddCommand(newExtractCmd(opts), newAskCmd(opts), newASRCmd(opts), newTTSCmd(opts))
	return root
}

func newExtractCmd(opts *options) *cobra.Command {
	var (
		kind  string
		image string
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "把处方或诊断图片提取为结构化记录",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := analysis.ParseKind(kind)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(image)
			if err != nil {
				return fmt.Errorf("读取图片失败: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			cm, err := ai.NewChatModel(ctx, opts.cfg.AI)
			if err != nil {
				return err
			}
			svc := extraction.NewService(cm, task.NewMemoryStore(task.Seed()))

			rec, err := svc.Extract(ctx, raw, k)
			if err != nil {
				return fmt.Errorf("提取失败（可重试）: %w", err)
			}

			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if save {
				path, err := archive.NewOsStore(opts.cfg.Storage.DataDir).SaveRecord(*rec)
				if err != nil {
					return err
				}
				log.Info().Str("path", path).Msg("record saved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(analysis.KindPrescription), "prescription 或 diagnostic")
	cmd.Flags().StringVar(&image, "image", "", "图片路径")
	cmd.Flags().BoolVar(&save, "save", false, "把结果写入 DATA_DIR")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	var contextFile string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "提问；不带参数时从标准输入逐行读取",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cm, err := ai.NewChatModel(ctx, opts.cfg.AI)
			if err != nil {
				return err
			}
			sm, err := ai.NewSummaryModel(ctx, opts.cfg.AI)
			if err != nil {
				return err
			}
			condenser, err := condense.NewService(ctx, sm)
			if err != nil {
				return err
			}

			session := chat.NewSession("cli", cm, condenser)
			if contextFile != "" {
				rec, err := loadRecord(contextFile)
				if err != nil {
					return err
				}
				session.SetContext(rec)
			}

			ask := func(q string) {
				qctx, cancel := context.WithTimeout(ctx, opts.timeout)
				defer cancel()
				resp := session.Submit(qctx, q)
				fmt.Fprintf(cmd.OutOrStdout(), "full:    %s\nconcise: %s\n", resp.Full, resp.Concise)
			}

			if len(args) > 0 {
				ask(strings.Join(args, " "))
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if q := strings.TrimSpace(scanner.Text()); q != "" {
					ask(q)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&contextFile, "context", "", "作为上下文的分析记录 JSON 文件")
	return cmd
}

// loadRecord 根据文件内容推断记录类型。
func loadRecord(path string) (analysis.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return analysis.Record{}, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return analysis.Record{}, fmt.Errorf("解析上下文失败: %w", err)
	}
	if _, ok := probe["Predicted_Disease"]; ok {
		var d analysis.Diagnostic
		if err := json.Unmarshal(data, &d); err != nil {
			return analysis.Record{}, err
		}
		return analysis.NewDiagnostic(d), nil
	}
	var p analysis.Prescription
	if err := json.Unmarshal(data, &p); err != nil {
		return analysis.Record{}, err
	}
	return analysis.NewPrescription(p), nil
}

func newASRCmd(opts *options) *cobra.Command {
	var (
		audioPath string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "asr",
		Short: "识别音频文件",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.cfg.Speech.Enabled {
				return speech.ErrDisabled
			}
			f, err := os.Open(audioPath)
			if err != nil {
				return fmt.Errorf("打开音频文件失败: %w", err)
			}
			defer f.Close()
			audio, err := io.ReadAll(f)
			if err != nil {
				return err
			}

			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			svc := speech.NewService(opts.cfg.Speech.ClientConfig())
			text, err := speech.NewInput(svc, 0, format).Transcribe(ctx, audio)
			switch {
			case errors.Is(err, speech.ErrUnintelligible):
				return fmt.Errorf("无法识别音频内容: %w", err)
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&audioPath, "audio", "", "音频文件路径")
	cmd.Flags().StringVar(&format, "format", "", "音频格式，默认取扩展名")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newTTSCmd(opts *options) *cobra.Command {
	var (
		text    string
		outPath string
		lang    string
	)
	cmd := &cobra.Command{
		Use:   "tts",
		Short: "合成语音并写入文件",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.cfg.Speech.Enabled {
				return speech.ErrDisabled
			}
			if outPath == "" {
				outPath = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			svc := speech.NewService(opts.cfg.Speech.ClientConfig())
			out, err := svc.Synthesize(ctx, text, lang)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, out.Audio, 0o644); err != nil {
				return fmt.Errorf("写入音频文件失败: %w", err)
			}
			log.Info().Str("path", outPath).Int64("duration_ms", out.Duration).Msg("tts ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "待合成文本")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "输出文件路径")
	cmd.Flags().StringVar(&lang, "lang", "", "语言代码，默认使用配置")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
