// Package config provides configuration management for the WebSocket
// gateway.
//
// Configuration is a YAML document shaped like a Kubernetes resource:
//
//	apiVersion: gateway.avawsgw.io/v1
//	kind: WebSocketGateway
//	metadata:
//	  name: local
//	spec:
//	  listener:
//	    port: 3001
//	  websocket:
//	    idleTimeout: 10m
//	    hardTimeout: 2h
//	  functions:
//	    connect:
//	      url: http://localhost:9000/2015-03-31/functions/connect/invocations
//	      events:
//	        - websocket:
//	            route: $connect
//	            authorizer: auth
//
// Values may reference environment variables with ${VAR} or
// ${VAR:-default}; a literal dollar sign is written as $$.
//
// The Watcher reloads the file on change and hands the validated result
// to a callback, which the gateway uses to swap its route table.
package config
