package repository

import (
	billingRepo "hospital/database/repository/billing"
	callbackRepo "hospital/database/repository/callback"
	transactionRepo "hospital/database/repository/transaction"
)

// Re-export the BillingRepository interface and constructor.
type BillingRepository = billingRepo.BillingRepository

var NewMongoBillingRepo = billingRepo.NewMongoBillingRepo

// Re-export the TransactionRepository interface and constructor.
type TransactionRepository = transactionRepo.TransactionRepository

var NewMongoTransactionRepo = transactionRepo.NewMongoTransactionRepo

// Re-export the UnmatchedCallbackRepository interface and constructor.
type UnmatchedCallbackRepository = callbackRepo.UnmatchedCallbackRepository

var NewMongoUnmatchedCallbackRepo = callbackRepo.NewMongoUnmatchedCallbackRepo
