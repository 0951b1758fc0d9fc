// Command llama2core is a thin front-end over the llama2 package: it loads
// a checkpoint and tokenizer, issues one query, and streams the generated
// text to stdout. The engine itself is the embeddable library; this binary
// exists for manual smoke-testing and scripted one-shot generation.
package main

func main() {
	Execute()
}
