package clientmqtt

import "time"

type MQTTConf struct {
	ClientID       string        // ClientID - уникальное имя клиента для брокеров.
	Schema         string        // Schema - тип подключения.
	Host           string        // Host - адрес MQTT сервера.
	Port           string        // Port - порт MQTT сервера.
	User           string        // User - логин для подключения к MQTT серверу.
	Password       string        // Password - пароль для подключения к MQTT серверу.
	Qos            byte          // Qos - качество обслуживания.
	Topic          string        // Topic - префикс топиков состояния устройств.
	Interval       time.Duration // Interval - период публикации.
	ConnectTimeout time.Duration // ConnectTimeout - сколько Start ждёт первого подключения.
}

// DefaultConnectTimeout bounds the first connection attempt in Start.
const DefaultConnectTimeout = 5 * time.Second

// StatusMessage is the retained payload published per device.
type StatusMessage struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Initialized bool      `json:"initialized"`
	Sent        uint64    `json:"sent"`
	Skipped     uint64    `json:"skipped"`
	Errors      uint64    `json:"errors"`
	Time        time.Time `json:"time"`
}
