package chunker

// textLayout marks paragraph breaks, line breaks, and word breaks.
func textLayout(content string) layout {
	var lay layout
	textBreaks(content, 0, len(content), &lay)
	return lay
}

// textBreaks adds the break positions of content[start:end] to lay.
func textBreaks(content string, start, end int, lay *layout) {
	for i := start; i < end; i++ {
		switch content[i] {
		case '\n':
			s := breakLine
			if i > start && content[i-1] == '\n' {
				s = breakBlock
			}
			lay.addBreak(i+1, s)
		case ' ', '\t':
			lay.addBreak(i+1, breakWord)
		}
	}
}
