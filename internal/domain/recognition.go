package domain

// RecognitionErrorCode mirrors the platform speech recognizer error codes.
type RecognitionErrorCode int

const (
	RecognitionErrorNetworkTimeout          RecognitionErrorCode = 1
	RecognitionErrorNetwork                 RecognitionErrorCode = 2
	RecognitionErrorAudio                   RecognitionErrorCode = 3
	RecognitionErrorServer                  RecognitionErrorCode = 4
	RecognitionErrorClient                  RecognitionErrorCode = 5
	RecognitionErrorSpeechTimeout           RecognitionErrorCode = 6
	RecognitionErrorNoMatch                 RecognitionErrorCode = 7
	RecognitionErrorRecognizerBusy          RecognitionErrorCode = 8
	RecognitionErrorInsufficientPermissions RecognitionErrorCode = 9
)

var recognitionErrorMessages = map[RecognitionErrorCode]string{
	RecognitionErrorAudio:                   "Audio recording error",
	RecognitionErrorClient:                  "Client side error",
	RecognitionErrorInsufficientPermissions: "Insufficient permissions",
	RecognitionErrorNetwork:                 "Network error",
	RecognitionErrorNetworkTimeout:          "Network timeout",
	RecognitionErrorNoMatch:                 "No match",
	RecognitionErrorRecognizerBusy:          "RecognitionService busy",
	RecognitionErrorServer:                  "Error from server",
	RecognitionErrorSpeechTimeout:           "No speech input",
}

// RecognitionErrorMessage returns the display text for code. Unmapped codes are "Unknown error".
func RecognitionErrorMessage(code RecognitionErrorCode) string {
	if message, ok := recognitionErrorMessages[code]; ok {
		return message
	}
	return "Unknown error"
}

// RecognitionErrorStateMessage is the message carried by the Error state for code.
func RecognitionErrorStateMessage(code RecognitionErrorCode) string {
	return "Error: " + RecognitionErrorMessage(code)
}
