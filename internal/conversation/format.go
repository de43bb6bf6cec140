package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nugget/hayden/internal/intent"
	"github.com/nugget/hayden/internal/persistence"
)

// Fixed replies.
const (
	BookkeepingPrompt = "好的，让我们开始记账。请输入您的账户信息，格式为'账户名称 金额'。您可以一次输入多个账户，用换行符、分号或顿号分隔。例如：\n支付宝 1000\n信用卡 -500\n或者：支付宝 1000；信用卡 -500\n输入完成后，请回复'确认'结束记账。"

	FormatHintReply = "抱歉，我没有理解您的输入。请按照'账户名称 金额'的格式输入，例如'支付宝 1000'或'信用卡 -500'。您可以一次输入多个账户，用换行符、分号或顿号分隔。"

	ReminderFailedReply = "抱歉，我在设置提醒时遇到了问题。请稍后再试。"

	QueryFailedReply = "抱歉，我在处理您的请求时遇到了问题。能否请您重新表述一下？"

	AssetQueryHeader      = "您的当前资产情况如下：\n\n"
	BookkeepingDoneHeader = "记账完成。\n当前账户余额：\n"

	ContinueTrailer = "\n请继续输入其他账户，或回复\"确认\"完成记账。"
)

// completionWords end bookkeeping mode when they appear anywhere in a message.
var completionWords = []string{"确认", "完成", "结束"}

var entrySeparators = regexp.MustCompile(`[；、\n]`)

// IsCompletion reports whether text asks to finish bookkeeping.
func IsCompletion(text string) bool {
	for _, w := range completionWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// SplitEntries splits a bookkeeping message into trimmed, non-empty
// entries on newlines, full-width semicolons and enumeration commas.
func SplitEntries(text string) []string {
	var out []string
	for _, part := range entrySeparators.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RecordedEntryLine confirms one saved entry. The amount is shown
// without sign or trailing zeros.
func RecordedEntryLine(info intent.AccountInfo) string {
	return fmt.Sprintf("已记录账户 %s，余额 %s元。", info.AccountName, info.Balance.Abs().String())
}

// UnparsedEntryLine reports an entry that could not be recorded.
func UnparsedEntryLine(entry string) string {
	return "无法解析账户信息：" + entry
}

// FormatSummary renders account balances and the net worth total.
func FormatSummary(balances []persistence.AccountBalance, netWorth decimal.Decimal) string {
	lines := make([]string, len(balances))
	for i, b := range balances {
		lines[i] = fmt.Sprintf("%s: %s元", b.AccountName, b.Balance.StringFixed(2))
	}
	return fmt.Sprintf("%s\n\n总净资产：%s元。", strings.Join(lines, "\n"), netWorth.StringFixed(2))
}
