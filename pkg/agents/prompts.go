package agents

import (
	"fmt"
	"strings"
	"time"
)

// snippetSeparator joins gathered snippets in every prompt that carries them.
const snippetSeparator = "\n\n--\n\n"

const queryWriterInstructions = `Your goal is to generate sophisticated and diverse web search queries for an automated research tool.

Instructions:
- Always prefer a single search query, only add another query if the original question requests multiple aspects or elements and one query is not enough.
- Each query should focus on one specific aspect of the original question.
- Don't produce more than %d queries.
- Queries should be diverse, if the topic is broad, generate more than 1 query.
- Don't generate multiple similar queries, 1 is enough.
- Queries should ensure that the most current information is gathered. The current date is %s.

Format:
Return a JSON object with exactly these keys:
   - "rationale": Brief explanation of why these queries are relevant
   - "query": A list of search queries

Example:
{"rationale": "To compare revenue growth we need both companies' latest figures.", "query": ["Apple total revenue growth fiscal year 2024", "iPhone unit sales growth fiscal year 2024"]}

Topic: %s`

const reflectionInstructions = `You are an expert research assistant analyzing summaries about "%s".

Instructions:
- Identify knowledge gaps or areas that need deeper exploration and generate follow-up queries (1 or more).
- If the provided summaries are sufficient to answer the user's question, don't generate a follow-up query.
- If there is a knowledge gap, generate a follow-up query that would help expand your understanding.
- Focus on technical details, implementation specifics, or emerging trends that weren't fully covered.
- The current date is %s.

Requirements:
- Ensure the follow-up query is self-contained and includes necessary context for web search.

Output Format:
Return a JSON object with exactly these keys:
   - "is_sufficient": true or false
   - "knowledge_gap": Describe what information is missing or needs clarification
   - "follow_up_queries": A list of specific questions to address this gap

Summaries:
%s`

const answerInstructions = `Generate a high-quality answer to the user's question based on the provided summaries.

Instructions:
- The current date is %s.
- You are the final step of a multi-step research process, don't mention that you are the final step.
- You have access to all the information gathered from the previous steps.
- Generate a high-quality answer to the user's question based on the provided summaries and the user's question.
- Format the answer as Markdown.

User Context:
- %s

Summaries:
%s`

// currentDate renders the date the way the prompts expect it, e.g. "October 18, 2026".
func currentDate(now time.Time) string {
	return now.Format("January 02, 2006")
}

func joinSnippets(snippets []string) string {
	if len(snippets) == 0 {
		return "(no summaries gathered)"
	}
	return strings.Join(snippets, snippetSeparator)
}

func queryWriterPrompt(topic string, count int, now time.Time) string {
	return fmt.Sprintf(queryWriterInstructions, count, currentDate(now), topic)
}

func reflectionPrompt(topic string, snippets []string, now time.Time) string {
	return fmt.Sprintf(reflectionInstructions, topic, currentDate(now), joinSnippets(snippets))
}

func answerPrompt(topic string, snippets []string, now time.Time) string {
	return fmt.Sprintf(answerInstructions, currentDate(now), topic, joinSnippets(snippets))
}
