package db

import (
	"context"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// InitOperator seeds the operator account used by the admin endpoints.
// Safe to call on every start.
func InitOperator(database *Database, username, password string) {
	if username == "" || password == "" {
		log.Println("Operator credentials not set, skipping operator seed")
		return
	}

	var count int
	err := database.ExecQueryRow(context.Background(), "SELECT COUNT(*) FROM users WHERE username = $1", username).Scan(&count)
	if err != nil {
		log.Fatal(err)
	}

	if count == 0 {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal(err)
		}
		_, err = database.Exec(context.Background(), "INSERT INTO users (username, password) VALUES ($1, $2)", username, string(hashed))
		if err != nil {
			log.Fatal(err)
		}
		log.Println("Operator account created")
	}
}
