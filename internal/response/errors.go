package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrAlreadyLoggedIn    ErrCode = "ALREADY_LOGGED_IN"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidTime    ErrCode = "INVALID_TIME_FORMAT"
	ErrPastDate       ErrCode = "PAST_DATE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrScheduleNotFound ErrCode = "SCHEDULE_NOT_FOUND"
	ErrSessionNotFound  ErrCode = "NO_SESSION"
	ErrRosterNotFound   ErrCode = "ROSTER_NOT_FOUND"
	ErrNoStudents       ErrCode = "NO_STUDENTS_FOUND"

	// ─── Schedule lifecycle ────────────────────────────────────────────
	ErrScheduleConflict      ErrCode = "SCHEDULE_CONFLICT"
	ErrScheduleNotActive     ErrCode = "SCHEDULE_NOT_ACTIVE"
	ErrScheduleClosed        ErrCode = "SCHEDULE_CLOSED"
	ErrInvalidExamCode       ErrCode = "INVALID_EXAM_CODE"
	ErrOutsideExamWindow     ErrCode = "OUTSIDE_EXAM_WINDOW"
	ErrNotEligible           ErrCode = "NOT_ELIGIBLE"
	ErrQuestionPoolExhausted ErrCode = "QUESTION_POOL_EXHAUSTED"
	ErrCodeCollision         ErrCode = "EXAM_CODE_COLLISION"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionPaused     ErrCode = "SESSION_PAUSED"
	ErrSessionTerminated ErrCode = "SESSION_TERMINATED"
	ErrSessionCompleted  ErrCode = "SESSION_COMPLETED"
	ErrSessionElsewhere  ErrCode = "SESSION_ACTIVE_ELSEWHERE"
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrInvalidSequence   ErrCode = "INVALID_QUESTION_SEQUENCE"
	ErrQuestionNotFound  ErrCode = "QUESTION_NOT_FOUND"
	ErrAlreadyAnswered   ErrCode = "QUESTION_ALREADY_ANSWERED"
	ErrInvalidExitReason ErrCode = "INVALID_EXIT_REASON"
	ErrConcurrentUpdate  ErrCode = "CONCURRENT_UPDATE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid register number or password."
	case ErrAlreadyLoggedIn:
		return "You are already attending the exam. Multiple logins are not allowed."
	case ErrSessionInvalidated:
		return "Your login was reset. Please sign in again."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrStaffAccessOnly:
		return "This resource is restricted to staff."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidTime:
		return "Time must be in hh:mm AM/PM format."
	case ErrPastDate:
		return "Cannot schedule an exam for a past date."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrScheduleNotFound:
		return "Exam schedule not found."
	case ErrSessionNotFound:
		return "No exam session found."
	case ErrRosterNotFound:
		return "Exam details are unavailable. Please contact the administrator."
	case ErrNoStudents:
		return "No students found for this schedule."

	// ─── Schedule lifecycle ────────────────────────────────────────────
	case ErrScheduleConflict:
		return "An exam is already scheduled for this scope on the same date."
	case ErrScheduleNotActive:
		return "This exam is not active."
	case ErrScheduleClosed:
		return "This exam has already ended or been cancelled."
	case ErrInvalidExamCode:
		return "Access denied. Invalid exam code."
	case ErrOutsideExamWindow:
		return "The exam is not accessible at this time."
	case ErrNotEligible:
		return "You are not authorized to attend this exam."
	case ErrQuestionPoolExhausted:
		return "Not enough unique questions to build the exam."
	case ErrCodeCollision:
		return "Could not allocate a unique exam code."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionPaused:
		return "Your exam session is paused."
	case ErrSessionTerminated:
		return "Your exam was terminated."
	case ErrSessionCompleted:
		return "You have already completed this exam."
	case ErrSessionElsewhere:
		return "You already have an exam in progress."
	case ErrInvalidTransition:
		return "This action is not allowed in the current session state."
	case ErrInvalidSequence:
		return "Invalid question sequence."
	case ErrQuestionNotFound:
		return "Question not found."
	case ErrAlreadyAnswered:
		return "Question already answered."
	case ErrInvalidExitReason:
		return "Invalid exit reason."
	case ErrConcurrentUpdate:
		return "The session was modified concurrently. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
