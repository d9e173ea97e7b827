package pricing

// ─────────────────────────────────────────────
// Question Cost Policy
//
// Pure rule evaluator for follow-up question pricing. The caller
// debits the ledger only when the cost is non-zero and increments
// the lifetime question counter only on non-cached answers.
// ─────────────────────────────────────────────

// QuestionCost returns the credit cost (0 or 1) of the next follow-up
// question. The first question of a reading session is always free;
// after that, every 5th question across the user's lifetime is free.
// The session rule takes precedence when both apply.
func QuestionCost(sessionQuestionIndex, userTotalQuestionsAsked int) int {
	if sessionQuestionIndex == 0 {
		return 0
	}
	if (userTotalQuestionsAsked+1)%5 == 0 {
		return 0
	}
	return 1
}
