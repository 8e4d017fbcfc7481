package audio

import "errors"

// ErrStreamStopped поток остановлен драйвером без запроса приложения
var ErrStreamStopped = errors.New("audio stream stopped unexpectedly")

// StreamConfig параметры потока захвата
type StreamConfig struct {
	SampleRate int // Желаемая частота (Hz)
	Channels   int // Желаемое количество каналов
	PeriodMs   int // Период callback'а драйвера
}

// DataFunc получает interleaved float32 семплы из callback'а драйвера.
// Вызывается на потоке драйвера: не блокировать.
type DataFunc func(samples []float32, channels int)

// StopFunc вызывается, когда поток завершился сам (io.EOF для файлов,
// ErrStreamStopped для устройств)
type StopFunc func(err error)

// Backend источник устройств и потоков захвата (malgo, файл, тестовый фейк)
type Backend interface {
	// Devices возвращает все устройства захвата без фильтрации
	Devices() ([]AudioDevice, error)
	// OpenStream готовит поток; device == nil означает устройство ОС по умолчанию
	OpenStream(device *AudioDevice, cfg StreamConfig, onData DataFunc, onStop StopFunc) (Stream, error)
	// Close освобождает контекст бэкенда
	Close() error
}

// Stream открытый поток захвата
type Stream interface {
	Start() error
	// Close останавливает поток и освобождает устройство. Повторный вызов безопасен.
	Close() error
	// SampleRate фактическая частота, с которой приходят данные
	SampleRate() int
	// Channels фактическое количество каналов
	Channels() int
}
