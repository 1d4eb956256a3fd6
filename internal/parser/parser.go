package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/studyroom/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFile reads a markdown file from the given path and extracts all flashcards.
func ParseFile(path string) ([]domain.Flashcard, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads Q:/A:/C: blocks from an io.Reader and extracts all flashcards.
// Cards without a front are dropped. A "---" line or a new Q: ends the current card.
func Parse(r io.Reader) ([]domain.Flashcard, error) {
	scanner := bufio.NewScanner(r)
	var cards []domain.Flashcard
	var currentCard domain.Flashcard
	var currentBlock []string
	currentState := seeking

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(currentBlock, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			currentCard.Front = content
		case readingAnswer:
			currentCard.Back = content
		case readingContext:
			currentCard.Context = content
		}
		currentBlock = nil
	}

	finishCard := func() {
		flushBlock()
		if currentCard.Front != "" {
			cards = append(cards, currentCard)
		}
		currentCard = domain.Flashcard{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		isQ := strings.HasPrefix(line, questionPrefix)
		isA := strings.HasPrefix(line, answerPrefix)
		isC := strings.HasPrefix(line, contextPrefix)
		isSeparator := line == "---"

		if isSeparator {
			finishCard()
			continue
		}

		if isQ || isA || isC {
			flushBlock()

			switch {
			case isQ:
				if currentState != seeking { // A new question always starts a new card
					finishCard()
				}
				currentState = readingQuestion
				currentBlock = append(currentBlock, stripPrefix(line, questionPrefix))
			case isA:
				currentState = readingAnswer
				currentBlock = append(currentBlock, stripPrefix(line, answerPrefix))
			case isC:
				currentState = readingContext
				currentBlock = append(currentBlock, stripPrefix(line, contextPrefix))
			}
		} else if currentState != seeking {
			currentBlock = append(currentBlock, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}

func stripPrefix(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
