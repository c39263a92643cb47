package genai

import (
	"fmt"
	"strings"

	"github.com/soyeahso/casefinder/internal/domain"
)

// chatPersona is the static system persona for conversational replies.
const chatPersona = `あなたはHELPYOU（ヘルプユー）というオンラインアウトソーシングサービスの事例紹介AIアシスタントです。

HELPYOUは、バックオフィス業務をオンラインでアウトソースできるサービスです。
経理・人事・営業事務・カスタマーサポート・IT・マーケティングなど幅広い業務に対応しています。

現在ユーザーに以下の事例が表示されています。ユーザーの質問に対して、これらの事例を根拠として回答してください：

%s

回答のルール:
- 日本語で回答してください
- 丁寧かつ親しみやすいトーンで回答してください
- 質問に関連する事例がある場合は、具体的にその事例のタイトルや内容を引用して回答してください
- 料金について聞かれた場合は、具体的な金額は伝えず営業担当への案内を促してください
- 150〜250文字程度で簡潔に回答してください
- マークダウンは使わず、プレーンテキストで回答してください`

// introPersona is the system persona for the one-shot intro comment.
const introPersona = `あなたはHELPYOU（ヘルプユー）というオンラインアウトソーシングサービスの事例紹介AIアシスタントです。

HELPYOUは、バックオフィス業務をオンラインでアウトソースできるサービスです。
経理・人事・営業事務・カスタマーサポート・IT・マーケティングなど幅広い業務に対応しています。

対応可能な業務の例:
- 経理・会計: 仕訳入力、請求書処理、経費精算、月次レポート作成
- 人事・労務: 採用事務、入社手続き、給与計算、社会保険手続き
- 営業事務: 提案書作成、見積書作成、顧客データ管理
- カスタマーサポート: メール問い合わせ対応、FAQ作成、問い合わせ集計
- IT / 情シス: ヘルプデスク、PC設定サポート、マニュアル作成
- マーケティング: SNS運用、メルマガ配信、広告レポート作成

回答のルール:
- 日本語で回答してください
- 丁寧かつ親しみやすいトーンで回答してください
- ユーザーの業界・業務に合わせて、HELPYOUがどう役立てるか具体的に触れてください
- 300文字程度で簡潔に回答してください
- マークダウンは使わず、プレーンテキストで回答してください
- 最後に「以下に、御社に近い事例をピックアップしましたので、ぜひご覧ください！」で締めてください`

// replyTokenFloor is the minimum output token budget for a reply.
const replyTokenFloor = 4096

// replyTokenHeadroom is added on top of the estimated input size.
const replyTokenHeadroom = 2048

// buildReplySystemPrompt assembles the full system instruction for a
// reply: persona, the cases currently shown to the user, and the lead's
// profile context. Profile context lives here, never in the per-turn
// array — mixing it into the conversation degrades multi-turn tracking.
func buildReplySystemPrompt(profile domain.Profile, cases []domain.CaseStudy) string {
	var b strings.Builder
	fmt.Fprintf(&b, chatPersona, renderCaseContext(cases))

	fmt.Fprintf(&b, "\n\n現在のユーザー情報:\n- 業界: %s\n- 業務カテゴリ: %s",
		profile.IndustryLabel(), profile.CategoryLabel())
	if profile.FreeText != "" {
		fmt.Fprintf(&b, "\n- 相談内容: %s", profile.FreeText)
	}
	return b.String()
}

// renderCaseContext formats the displayed cases for the system prompt.
func renderCaseContext(cases []domain.CaseStudy) string {
	if len(cases) == 0 {
		return "（事例はまだ読み込まれていません）"
	}
	var b strings.Builder
	for _, c := range cases {
		fmt.Fprintf(&b, "【事例: %s】\n背景: %s\n依頼内容: %s\n実際のサービス: %s\n\n",
			c.Title, c.Background, c.RequestedContent, strings.Join(c.ActualServices, "、"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildIntroUserPrompt is the single user message for the intro call.
func buildIntroUserPrompt(profile domain.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "私は%sの企業で、%sについてアウトソーシングを検討しています。",
		profile.IndustryLabel(), profile.CategoryLabel())
	if profile.FreeText != "" {
		fmt.Fprintf(&b, "\n具体的な相談内容: %s", profile.FreeText)
	}
	b.WriteString("\n\nHELPYOUの事例を踏まえて、私の状況に合った初回の挨拶と事例紹介をお願いします。")
	return b.String()
}

// replyTokenBudget computes the output token budget for a reply call.
// Japanese text runs roughly two tokens per character, and longer
// histories need proportionally more headroom to avoid truncation.
func replyTokenBudget(turns []domain.Turn, systemPrompt string) int {
	totalChars := len([]rune(systemPrompt))
	for _, t := range turns {
		totalChars += len([]rune(t.Content))
	}
	budget := 2*totalChars + replyTokenHeadroom
	if budget < replyTokenFloor {
		return replyTokenFloor
	}
	return budget
}
