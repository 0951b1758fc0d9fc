package tokenizer

import "strings"

// WrapChat implements the chat-template overlay from spec §4.3: wraps the
// user prompt in "[INST] ... [/INST]" and, when a system prompt is
// present, a "<<SYS>>\n...\n<</SYS>>\n\n" block inside the instruction.
// Supplemented from original_source/inc/clamma.h and clamma-chat.c: the
// system block, when present, always precedes the user message with no
// extra separating space, and this covers only the single-turn wrapping
// the public query surface supports — threading multiple turns into one
// growing instruction is a CLI-level concern, out of scope here.
func WrapChat(system, prompt string) string {
	var b strings.Builder
	b.WriteString("[INST] ")
	if system != "" {
		b.WriteString("<<SYS>>\n")
		b.WriteString(system)
		b.WriteString("\n<</SYS>>\n\n")
	}
	b.WriteString(prompt)
	b.WriteString(" [/INST]")
	return b.String()
}
