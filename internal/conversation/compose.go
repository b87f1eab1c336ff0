// ABOUTME: Prompt Composer merges history, the new prompt, and enrichment context
// ABOUTME: Context is appended to the latest prompt only, never to historical turns

package conversation

// Compose returns prior followed by one user message holding prompt+context.
// No separator is inserted; providers format their own blobs. prior is not
// modified.
func Compose(prior []Message, prompt, context string) []Message {
	msgs := make([]Message, 0, len(prior)+1)
	msgs = append(msgs, prior...)
	return append(msgs, Message{Role: RoleUser, Content: prompt + context})
}
