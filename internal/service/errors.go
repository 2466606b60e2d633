package service

import "errors"

var (
	ErrGameNotFound       = errors.New("game not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotCreator         = errors.New("only the creator can do that")
	ErrAlreadyJoined      = errors.New("already joined this game")
	ErrNotInGame          = errors.New("you are not in this game")
	ErrCreatorCannotLeave = errors.New("the creator cannot leave their own game")
)

// AdmissionError rejects a client action without touching game state. Msg
// carries the protocol's Spanish text and is unicast to the offender
// verbatim, so existing clients keep working.
type AdmissionError struct {
	Msg string
}

func (e *AdmissionError) Error() string { return e.Msg }

// ValidationError rejects a malformed create/join request on the REST
// surface, with the protocol's Spanish text.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Protocol strings. These are part of the wire protocol: clients match on
// them, so they must not be reworded on the server side alone.
const (
	msgOnlyCreatorStarts  = "La partida solo la puede iniciar quien la creó"
	msgNeedTwoPlayers     = "Para iniciar la partida debe tener al menos 2 jugadores inscritos"
	msgAlreadyStarted     = "La partida ya había sido iniciada"
	msgRoundsBelowPlayers = "El número de rondas debe ser mayor o igual al número de jugadores"
	msgGameNotRunning     = "El juego aun no comienza"
	msgQuestionDelivered  = "Ya se entregó la pregunta de esta ronda"
	msgOnlyNosyQuestion   = "Solo el pregunton puede enviar la pregunta de la ronda"
	msgNoMoreAnswers      = "Ya no se aceptan respuestas en esta ronda"
	msgAnswerLocked       = "No se puede cambiar la respuesta previamente enviada"
	msgNotQualifyPhase    = "Aún no es momento de calificar respuestas"
	msgOnlyNosyQualifies  = "Solo el pregunton puede calificar las respuestas"
	msgInvalidGrade       = "La calificación debe ser un número entre 0 y 3"
	msgNoMoveToGrade      = "El jugador indicado no envió respuesta en esta ronda"
	msgNotAssessPhase     = "Aún no es momento de evaluar respuestas"
	msgNoQualification    = "No tienes una respuesta asignada para evaluar"
	msgAlreadyAssessed    = "Ya has evaluado la respuesta asignada"
	msgGameCanceled       = "La partida fue cancelada por falta de jugadores activos"

	// REST surface.
	MsgJoined        = "Te has unido correctamente al juego."
	MsgGameStarted   = "El juego ya comenzó, no permite inscripción."
	msgNameTooShort  = "El nombre debe tener al menos 3 caracteres"
	msgBadQuestionTm = "El tiempo de pregunta debe ser 60, 90 o 120 segundos"
	msgBadAnswerTm   = "El tiempo de respuesta debe ser 60, 90 o 120 segundos"
)
