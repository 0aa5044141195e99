package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient 测试创建基础客户端
func TestNewClient(t *testing.T) {
	// 测试默认配置
	client := NewClient()
	if client == nil {
		t.Fatal("NewClient() 返回 nil")
	}

	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("默认超时时间应为30秒，实际为 %v", client.httpClient.Timeout)
	}

	if client.headers["User-Agent"] != "RCAFlow/1.0" {
		t.Errorf("默认User-Agent不正确: %s", client.headers["User-Agent"])
	}

	// 测试自定义配置
	customClient := NewClient(
		WithTimeout(10*time.Second),
		WithHeaders(map[string]string{"X-Custom": "value"}),
		WithRetries(3),
	)

	if customClient.httpClient.Timeout != 10*time.Second {
		t.Errorf("自定义超时时间应为10秒，实际为 %v", customClient.httpClient.Timeout)
	}

	if customClient.headers["X-Custom"] != "value" {
		t.Errorf("自定义头未设置")
	}

	if customClient.retries != 3 {
		t.Errorf("重试次数应为3，实际为 %d", customClient.retries)
	}
}

// TestClientPostJSON 测试PostJSON方法
func TestClientPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("期望POST请求，实际为 %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type 应为 application/json，实际为 %s", ct)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		if body["event"] != "workflow_completed" {
			t.Errorf("请求体内容不正确: %v", body)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	err := client.PostJSON(context.Background(), server.URL, map[string]string{
		"event": "workflow_completed",
	})
	if err != nil {
		t.Fatalf("PostJSON 应成功，实际错误: %v", err)
	}
}

// TestClientPostJSONNon2xx 测试非2xx响应返回错误
func TestClientPostJSONNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient()
	if err := client.PostJSON(context.Background(), server.URL, map[string]string{}); err == nil {
		t.Fatal("非2xx响应应返回错误")
	}
}

// TestClientRetryOn5xx 测试5xx触发重试
func TestClientRetryOn5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(WithRetries(3))
	if err := client.PostJSON(context.Background(), server.URL, map[string]string{}); err != nil {
		t.Fatalf("重试后应成功，实际错误: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("期望请求3次，实际 %d 次", got)
	}
}
