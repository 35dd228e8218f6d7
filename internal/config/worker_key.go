package config

type WorkerKeyStruct struct {
	PersistAttemptsQueue string
	PersistAnswersQueue  string
	PersistEventsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAttemptsQueue: "persist_attempts_queue",
	PersistAnswersQueue:  "persist_answers_queue",
	PersistEventsQueue:   "persist_events_queue",
}
