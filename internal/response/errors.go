package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotFound      ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotPublished  ErrCode = "EXAM_NOT_PUBLISHED"
	ErrExamNotDraft      ErrCode = "EXAM_NOT_DRAFT"
	ErrNotExamAuthor     ErrCode = "NOT_EXAM_AUTHOR"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"
	ErrInvalidAnswerKey  ErrCode = "INVALID_ANSWER_KEY"
	ErrAlreadyAttempted  ErrCode = "ALREADY_ATTEMPTED"
	ErrNoActiveSession   ErrCode = "NO_ACTIVE_SESSION"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"

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
		return "Email/NISN atau kata sandi salah."
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrExamNotDraft:
		return "Ujian ini tidak dalam status DRAFT."
	case ErrNotExamAuthor:
		return "Anda bukan pembuat ujian ini."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrInvalidAnswerKey:
		return "Kunci jawaban pilihan ganda harus salah satu dari opsi."
	case ErrAlreadyAttempted:
		return "Anda sudah mengerjakan ujian ini."
	case ErrNoActiveSession:
		return "Tidak ada sesi ujian yang aktif."
	case ErrAlreadySubmitted:
		return "Jawaban ujian sudah dikumpulkan."
	case ErrAttemptNotFound:
		return "Hasil ujian tidak ditemukan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
